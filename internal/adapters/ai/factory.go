package ai

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"bizagents/internal/adapters/config"
	"bizagents/pkg/errors"
)

// NewChatProvider builds the configured default provider. When its key is
// missing the other provider is tried; ErrUnavailable means no key at all.
// rdb is optional and switches rate limiting to the shared Redis bucket.
func NewChatProvider(ctx context.Context, cfg config.AIConfig, rdb *redis.Client) (ChatProvider, error) {
	preferred := ProviderName(strings.ToLower(strings.TrimSpace(cfg.DefaultProvider)))
	if !preferred.IsValid() {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown AI provider %q", cfg.DefaultProvider)
	}

	order := []ProviderName{preferred}
	if preferred == ProviderNameOpenAI {
		order = append(order, ProviderNameGemini)
	} else {
		order = append(order, ProviderNameOpenAI)
	}

	for _, name := range order {
		limiter := NewRateLimiter(name, float64(cfg.RequestsPerMinute), rdb)
		switch name {
		case ProviderNameOpenAI:
			if cfg.OpenAIKey != "" {
				return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, cfg.Timeout, limiter)
			}
		case ProviderNameGemini:
			if cfg.GeminiKey != "" {
				return NewGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.Timeout, limiter)
			}
		}
	}

	return nil, errors.Wrap(errors.ErrUnavailable, "no AI provider key configured")
}
