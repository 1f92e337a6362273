package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/legalmeet/intake/pkg/protocol"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIProvider talks to the Chat Completions endpoint of OpenAI or any
// compatible gateway (OpenRouter, Groq, a local vLLM).
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithBaseURL points the provider at a compatible gateway.
func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = url }
}

// WithModel sets the model used when a request names none.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

// NewOpenAI creates a Chat Completions provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: defaultOpenAIURL,
		apiKey:  apiKey,
		model:   defaultOpenAIModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	in := completionRequest{
		Model:    firstNonEmpty(req.Model, p.model),
		Messages: make([]completionMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		in.Messages[i] = completionMessage{Role: string(m.Role), Content: m.Content}
	}
	if req.MaxTokens > 0 {
		in.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		in.Temperature = &req.Temperature
	}
	if req.JSONMode {
		in.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	var out completionResponse
	if err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/chat/completions", header, in, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}
	return &protocol.ChatResponse{
		Content: out.Choices[0].Message.Content,
		Usage: protocol.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

type completionRequest struct {
	Model          string              `json:"model"`
	Messages       []completionMessage `json:"messages"`
	MaxTokens      *int                `json:"max_tokens,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
