package ai

import (
	"context"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"bizagents/internal/adapters/config"
	"bizagents/pkg/errors"
)

func TestWithDefaults(t *testing.T) {
	req := withDefaults(ChatRequest{}, "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)
	assert.Equal(t, defaultTemperature, req.Temperature)

	req = withDefaults(ChatRequest{Model: "gpt-4o", MaxTokens: 50, Temperature: 0.9}, "gpt-4o-mini")
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 50, req.MaxTokens)
	assert.Equal(t, 0.9, req.Temperature)
}

func TestOpenAIParams(t *testing.T) {
	params := openAIParams(ChatRequest{
		Model:       "gpt-4o-mini",
		System:      "You are a business analyst.",
		Messages:    []Message{UserMessage("Revenue fell 12%"), {Role: RoleAssistant, Content: "Noted."}},
		Temperature: 0.2,
		MaxTokens:   256,
	})

	assert.Equal(t, openai.ChatModel("gpt-4o-mini"), params.Model)
	require.Len(t, params.Messages, 3)
	assert.NotNil(t, params.Messages[0].OfSystem)
	assert.NotNil(t, params.Messages[1].OfUser)
	assert.NotNil(t, params.Messages[2].OfAssistant)
	assert.Equal(t, int64(256), params.MaxCompletionTokens.Value)
}

func TestOpenAIFinishReason(t *testing.T) {
	assert.Equal(t, FinishReasonStop, openAIFinishReason("stop"))
	assert.Equal(t, FinishReasonLength, openAIFinishReason("length"))
	assert.Equal(t, FinishReasonOther, openAIFinishReason("content_filter"))
}

func TestGeminiRequest(t *testing.T) {
	contents, cfg := geminiRequest(ChatRequest{
		System:      "You are a business analyst.",
		Messages:    []Message{UserMessage("Churn rose"), {Role: RoleAssistant, Content: "Why?"}},
		Temperature: 0.5,
		MaxTokens:   128,
	})

	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, int32(128), cfg.MaxOutputTokens)
	assert.Equal(t, float32(0.5), *cfg.Temperature)

	assert.Equal(t, FinishReasonLength, geminiFinishReason(genai.FinishReasonMaxTokens))
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("", "", 0, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	p, err := NewOpenAIProvider("sk-test", "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderNameOpenAI, p.Name())
	assert.Equal(t, "gpt-4o-mini", p.model)
}

func TestNewChatProvider(t *testing.T) {
	ctx := context.Background()

	_, err := NewChatProvider(ctx, config.AIConfig{DefaultProvider: "openai"}, nil)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	_, err = NewChatProvider(ctx, config.AIConfig{DefaultProvider: "anthropic"}, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	// preferred provider without a key falls back to the other one
	p, err := NewChatProvider(ctx, config.AIConfig{DefaultProvider: "gemini", OpenAIKey: "sk-test", RequestsPerMinute: 30}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderNameOpenAI, p.Name())

	op := p.(*OpenAIProvider)
	assert.Equal(t, float64(30), op.limiter.Limit())
}
