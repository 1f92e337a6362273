// Package classify wraps the LLM provider for the two conversational calls
// the intake flow makes: continuing the conversation, and turning a
// transcript into a structured case classification.
//
// Neither call ever fails from the caller's point of view. A bad or missing
// classification means "keep chatting"; a failed reply becomes one of the
// scripted apologies.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/internal/provider"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/pkg/protocol"
)

const (
	DefaultMinMessages     = 6
	DefaultMinUserChars    = 10
	// Classification and reply can share one turn; together they stay
	// inside the 15s connector processing deadline.
	DefaultClassifyTimeout = 6 * time.Second
	DefaultReplyTimeout    = 5 * time.Second
)

// Config tunes the gateway. Zero values select the defaults.
type Config struct {
	Model           string
	MinMessages     int
	MinUserChars    int
	ClassifyTimeout time.Duration
	ReplyTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinMessages <= 0 {
		c.MinMessages = DefaultMinMessages
	}
	if c.MinUserChars <= 0 {
		c.MinUserChars = DefaultMinUserChars
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = DefaultClassifyTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	return c
}

// Gateway talks to the classification service.
type Gateway struct {
	provider provider.Provider
	config   Config
	rnd      random.Source
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a gateway. rnd picks fallback replies and may be nil.
func New(p provider.Provider, cfg Config, rnd random.Source, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider: p,
		config:   cfg.withDefaults(),
		rnd:      rnd,
		metrics:  m,
		logger:   logger.With("component", "classify"),
	}
}

// HasEnoughSignal reports whether the transcript is worth classifying: at
// least 6 entries, and at least 2 user messages longer than 10 characters
// once trimmed. Short acknowledgements like "ok" or "sí" do not count.
func HasEnoughSignal(msgs []protocol.ChatMessage) bool {
	return hasEnoughSignal(msgs, DefaultMinMessages, DefaultMinUserChars)
}

// HasEnoughSignal applies the gateway's configured thresholds.
func (g *Gateway) HasEnoughSignal(msgs []protocol.ChatMessage) bool {
	return hasEnoughSignal(msgs, g.config.MinMessages, g.config.MinUserChars)
}

func hasEnoughSignal(msgs []protocol.ChatMessage, minMessages, minChars int) bool {
	if len(msgs) < minMessages {
		return false
	}
	substantial := 0
	for _, m := range msgs {
		if m.Role == protocol.RoleUser && utf8.RuneCountInString(strings.TrimSpace(m.Content)) > minChars {
			substantial++
		}
	}
	return substantial >= 2
}

// Classify asks the service for a structured classification of msgs. It
// returns (nil, false) on any service error, malformed output or failed
// validation.
func (g *Gateway) Classify(ctx context.Context, msgs []protocol.ChatMessage) (*protocol.Classification, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.config.ClassifyTimeout)
	defer cancel()

	req := protocol.ChatRequest{
		Model: g.config.Model,
		Messages: []protocol.ChatMessage{
			{Role: protocol.RoleSystem, Content: classifierPrompt},
			{Role: protocol.RoleUser, Content: fmt.Sprintf(classifyInstruction, renderTranscript(msgs))},
		},
		Temperature: 0.3,
		JSONMode:    true,
	}

	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		g.logger.Warn("classification call failed", "error", err)
		g.metrics.Classification("error")
		return nil, false
	}

	c, err := parseClassification(resp.Content)
	if err != nil {
		g.logger.Warn("classification rejected", "error", err, "content", truncate(resp.Content, 200))
		g.metrics.Classification("rejected")
		return nil, false
	}

	g.logger.Info("case classified", "category", c.Category, "urgency", c.Urgency, "title", c.Title)
	g.metrics.Classification("classified")
	return c, true
}

// Reply continues the open-ended conversation. On service error or empty
// output it returns a scripted apology.
func (g *Gateway) Reply(ctx context.Context, msgs []protocol.ChatMessage) string {
	ctx, cancel := context.WithTimeout(ctx, g.config.ReplyTimeout)
	defer cancel()

	req := protocol.ChatRequest{
		Model:       g.config.Model,
		Messages:    append([]protocol.ChatMessage{{Role: protocol.RoleSystem, Content: replyPrompt}}, msgs...),
		MaxTokens:   100,
		Temperature: 0.7,
	}

	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		g.logger.Warn("reply call failed", "error", err)
		return random.Pick(g.rnd, fallbackReplies)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		g.logger.Warn("reply call returned empty content")
		return random.Pick(g.rnd, fallbackReplies)
	}
	return content
}

// renderTranscript formats msgs as "Usuario:"/"Asistente:" lines.
func renderTranscript(msgs []protocol.ChatMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case protocol.RoleUser:
			lines = append(lines, "Usuario: "+m.Content)
		case protocol.RoleAssistant:
			lines = append(lines, "Asistente: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// wireClassification accepts both the English field names and the Spanish
// ones the classifier prompt asks for.
type wireClassification struct {
	Category    string   `json:"category"`
	Urgency     string   `json:"urgency"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`
	Categoria   string   `json:"categoria"`
	Urgencia    string   `json:"urgencia"`
	Titulo      string   `json:"titulo"`
	Descripcion string   `json:"descripcion"`
	Palabras    []string `json:"palabrasClave"`
}

func parseClassification(content string) (*protocol.Classification, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var w wireClassification
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("classify: decode: %w", err)
	}

	out := protocol.Classification{
		Title:    strings.TrimSpace(first(w.Title, w.Titulo)),
		Summary:  strings.TrimSpace(first(w.Summary, w.Descripcion)),
		Keywords: w.Keywords,
	}
	if len(out.Keywords) == 0 {
		out.Keywords = w.Palabras
	}
	if s := first(w.Category, w.Categoria); s != "" {
		c, err := protocol.ParseCategory(s)
		if err != nil {
			return nil, err
		}
		out.Category = c
	}
	if s := first(w.Urgency, w.Urgencia); s != "" {
		u, err := protocol.ParseUrgency(s)
		if err != nil {
			return nil, err
		}
		out.Urgency = u
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func first(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
