package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Type    string // "openai" (default) or "anthropic"
	APIKey  string
	BaseURL string
	Model   string
}

// New builds the provider described by cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "", "openai":
		var opts []OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		return NewOpenAI(cfg.APIKey, opts...), nil
	case "anthropic":
		var opts []AnthropicOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithAnthropicModel(cfg.Model))
		}
		return NewAnthropic(cfg.APIKey, opts...), nil
	}
	return nil, fmt.Errorf("provider: unknown type %q", cfg.Type)
}

// Instrument wraps p so every call is recorded in m.
func Instrument(p Provider, m *metrics.Metrics) Provider {
	if m == nil {
		return p
	}
	return &instrumented{Provider: p, metrics: m}
}

type instrumented struct {
	Provider
	metrics *metrics.Metrics
}

func (i *instrumented) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	start := time.Now()
	resp, err := i.Provider.Chat(ctx, req)
	if err != nil {
		outcome := "error"
		if IsTemporary(err) {
			outcome = "unavailable"
		}
		i.metrics.ProviderCall(i.Name(), outcome, time.Since(start), 0, 0)
		return nil, err
	}
	i.metrics.ProviderCall(i.Name(), "ok", time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}
