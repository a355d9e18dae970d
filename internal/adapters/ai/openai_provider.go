package ai

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"bizagents/pkg/errors"
)

var _ ChatProvider = (*OpenAIProvider)(nil)

// OpenAIProvider implements ChatProvider with the official OpenAI SDK
type OpenAIProvider struct {
	client  openai.Client
	model   string
	timeout time.Duration
	limiter RateLimiter
}

// NewOpenAIProvider creates the provider
func NewOpenAIProvider(apiKey, model string, timeout time.Duration, limiter RateLimiter, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "openai API key is required")
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if limiter == nil {
		limiter = NoOpLimiter{}
	}

	return &OpenAIProvider{
		client:  openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:   model,
		timeout: timeout,
		limiter: limiter,
	}, nil
}

// Name implements ChatProvider
func (p *OpenAIProvider) Name() ProviderName {
	return ProviderNameOpenAI
}

// Chat implements ChatProvider
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = withDefaults(req, p.model)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return observe(p.Name(), req.Model, func() (*ChatResponse, error) {
		completion, err := p.client.Chat.Completions.New(ctx, openAIParams(req))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrExternal, "openai chat completion: %v", err)
		}
		if len(completion.Choices) == 0 {
			return nil, errors.Wrap(errors.ErrExternal, "openai returned no choices")
		}

		choice := completion.Choices[0]
		return &ChatResponse{
			ID:           completion.ID,
			Model:        completion.Model,
			Content:      choice.Message.Content,
			FinishReason: openAIFinishReason(choice.FinishReason),
			Usage: Usage{
				PromptTokens:     int(completion.Usage.PromptTokens),
				CompletionTokens: int(completion.Usage.CompletionTokens),
			},
		}, nil
	})
}

func openAIParams(req ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		Messages:            messages,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
	}
}

func openAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishReasonStop
	case "length":
		return FinishReasonLength
	default:
		return FinishReasonOther
	}
}
