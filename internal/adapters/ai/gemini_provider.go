package ai

import (
	"context"
	"time"

	"google.golang.org/genai"

	"bizagents/pkg/errors"
)

var _ ChatProvider = (*GeminiProvider)(nil)

// GeminiProvider implements ChatProvider with the Google GenAI SDK
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	limiter RateLimiter
}

// NewGeminiProvider creates the provider
func NewGeminiProvider(ctx context.Context, apiKey, model string, timeout time.Duration, limiter RateLimiter) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if limiter == nil {
		limiter = NoOpLimiter{}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}

	return &GeminiProvider{client: client, model: model, timeout: timeout, limiter: limiter}, nil
}

// Name implements ChatProvider
func (p *GeminiProvider) Name() ProviderName {
	return ProviderNameGemini
}

// Chat implements ChatProvider
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = withDefaults(req, p.model)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contents, config := geminiRequest(req)

	return observe(p.Name(), req.Model, func() (*ChatResponse, error) {
		resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrExternal, "gemini generate content: %v", err)
		}
		if len(resp.Candidates) == 0 {
			return nil, errors.Wrap(errors.ErrExternal, "gemini returned no candidates")
		}

		out := &ChatResponse{
			ID:           resp.ResponseID,
			Model:        req.Model,
			Content:      resp.Text(),
			FinishReason: geminiFinishReason(resp.Candidates[0].FinishReason),
		}
		if resp.UsageMetadata != nil {
			out.Usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		return out, nil
	})
}

func geminiRequest(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return contents, config
}

func geminiFinishReason(reason genai.FinishReason) FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return FinishReasonLength
	default:
		return FinishReasonOther
	}
}
