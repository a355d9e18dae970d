package ai

import (
	"context"
	"time"

	"bizagents/internal/metrics"
)

// ChatProvider sends chat completions to one LLM backend
type ChatProvider interface {
	Name() ProviderName
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single-shot completion request.
// Model falls back to the provider's configured model.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// MessageRole defines the role of a message sender
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn of the conversation
type Message struct {
	Role    MessageRole
	Content string
}

// UserMessage is shorthand for a user turn
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// FinishReason indicates why the model stopped generating
type FinishReason string

const (
	FinishReasonStop   FinishReason = "stop"
	FinishReasonLength FinishReason = "length"
	FinishReasonOther  FinishReason = "other"
)

// ChatResponse is the first choice of a completion
type ChatResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason FinishReason
	Usage        Usage
}

// Usage tracks token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// observe records latency and token metrics around one provider call
func observe(provider ProviderName, model string, call func() (*ChatResponse, error)) (*ChatResponse, error) {
	start := time.Now()
	resp, err := call()

	var in, out int
	if resp != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	metrics.RecordLLMCall(provider.String(), model, time.Since(start), in, out, err)
	return resp, err
}

func withDefaults(req ChatRequest, model string) ChatRequest {
	if req.Model == "" {
		req.Model = model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = defaultTemperature
	}
	return req
}
