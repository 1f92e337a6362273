package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/legalmeet/intake/pkg/protocol"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	anthropicAPIVersion   = "2023-06-01"
	// The Messages API rejects requests without max_tokens.
	defaultAnthropicMaxTokens = 1024
)

// jsonModeInstruction stands in for response_format, which the Messages
// API lacks.
const jsonModeInstruction = "Respond with a single valid JSON object and nothing else."

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = url }
}

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.model = model }
}

func WithAnthropicHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

// NewAnthropic creates a Messages API provider.
func NewAnthropic(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: defaultAnthropicURL,
		apiKey:  apiKey,
		model:   defaultAnthropicModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	system, turns := splitSystem(req.Messages)
	if req.JSONMode {
		system = joinParagraphs(system, jsonModeInstruction)
	}

	in := messagesRequest{
		Model:     firstNonEmpty(req.Model, p.model),
		System:    system,
		Messages:  turns,
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if req.MaxTokens > 0 {
		in.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		in.Temperature = &req.Temperature
	}

	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", anthropicAPIVersion)

	var out messagesResponse
	if err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/v1/messages", header, in, &out); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &protocol.ChatResponse{
		Content: text.String(),
		Usage: protocol.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		},
	}, nil
}

type messagesRequest struct {
	Model       string   `json:"model"`
	System      string   `json:"system,omitempty"`
	Messages    []turn   `json:"messages"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type turn struct {
	Role    string      `json:"role"`
	Content []textBlock `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messagesResponse struct {
	Content []textBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// splitSystem lifts system messages into the top-level system field and
// merges consecutive same-role messages, since turns must alternate.
func splitSystem(msgs []protocol.ChatMessage) (string, []turn) {
	var system string
	var turns []turn
	for _, m := range msgs {
		if m.Role == protocol.RoleSystem {
			system = joinParagraphs(system, m.Content)
			continue
		}
		block := textBlock{Type: "text", Text: m.Content}
		if n := len(turns); n > 0 && turns[n-1].Role == string(m.Role) {
			turns[n-1].Content = append(turns[n-1].Content, block)
			continue
		}
		turns = append(turns, turn{Role: string(m.Role), Content: []textBlock{block}})
	}
	return system, turns
}

func joinParagraphs(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}
