package classify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/pkg/protocol"
)

type fakeProvider struct {
	mu      sync.Mutex
	content string
	err     error
	delay   time.Duration
	reqs    []protocol.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) lastRequest() protocol.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func user(s string) protocol.ChatMessage      { return protocol.ChatMessage{Role: protocol.RoleUser, Content: s} }
func assistant(s string) protocol.ChatMessage { return protocol.ChatMessage{Role: protocol.RoleAssistant, Content: s} }

func laborTranscript() []protocol.ChatMessage {
	return []protocol.ChatMessage{
		assistant("¡Hola! ¿Qué situación legal estás enfrentando?"),
		user("Me despidieron del trabajo sin justa causa"),
		assistant("Lamento escuchar eso. ¿Cuánto tiempo trabajaste allí?"),
		user("Trabajé tres años y no me pagaron la liquidación"),
		assistant("¿Tienes contrato escrito?"),
		user("Sí, contrato a término indefinido firmado"),
	}
}

func TestHasEnoughSignal(t *testing.T) {
	assert.True(t, HasEnoughSignal(laborTranscript()))

	for n := 0; n < 6; n++ {
		assert.False(t, HasEnoughSignal(laborTranscript()[:n]), "fewer than 6 entries (%d)", n)
	}

	short := []protocol.ChatMessage{
		assistant("hola"), user("ok"), assistant("¿Qué pasó?"),
		user("sí"), assistant("¿Algo más?"), user("Me despidieron sin justa causa"),
	}
	assert.False(t, HasEnoughSignal(short), "only one substantial user message")

	// Exactly 10 runes after trimming is not enough; 11 is.
	tenRunes := []protocol.ChatMessage{
		user("  abcdefghij  "), user("abcdefghij"), assistant("a"), assistant("b"), assistant("c"), assistant("d"),
	}
	assert.False(t, HasEnoughSignal(tenRunes))
	elevenRunes := []protocol.ChatMessage{
		user("ñañañañañañ"), user("abcdefghijk"), assistant("a"), assistant("b"), assistant("c"), assistant("d"),
	}
	assert.True(t, HasEnoughSignal(elevenRunes))
}

func TestClassifySpanishKeys(t *testing.T) {
	p := &fakeProvider{content: `{
		"categoria": "Derecho Laboral",
		"urgencia": "ALTA",
		"titulo": "Despido sin justa causa",
		"descripcion": "Trabajador despedido tras tres años sin liquidación",
		"palabrasClave": ["despido", "liquidación"]
	}`}
	g := New(p, Config{Model: "gpt-4o-mini"}, nil, nil, nil)

	c, ok := g.Classify(context.Background(), laborTranscript())
	require.True(t, ok)
	assert.Equal(t, protocol.CategoryLabor, c.Category)
	assert.Equal(t, protocol.UrgencyHigh, c.Urgency)
	assert.Equal(t, "Despido sin justa causa", c.Title)
	assert.Equal(t, []string{"despido", "liquidación"}, c.Keywords)

	req := p.lastRequest()
	assert.True(t, req.JSONMode)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[1].Content, "Usuario: Me despidieron del trabajo sin justa causa")
	assert.Contains(t, req.Messages[1].Content, "Asistente: ¿Tienes contrato escrito?")
}

func TestClassifyEnglishKeysInsideFence(t *testing.T) {
	p := &fakeProvider{content: "Here you go:\n```json\n{\"category\":\"Traffic\",\"urgency\":\"low\",\"title\":\"Comparendo\"}\n```"}
	g := New(p, Config{}, nil, nil, nil)

	c, ok := g.Classify(context.Background(), laborTranscript())
	require.True(t, ok)
	assert.Equal(t, protocol.CategoryTraffic, c.Category)
	assert.Equal(t, protocol.UrgencyLow, c.Urgency)
}

func TestClassifyRejects(t *testing.T) {
	tests := map[string]*fakeProvider{
		"service error":    {err: errors.New("api error (status 500)")},
		"not json":         {content: "No puedo clasificar esto todavía."},
		"missing title":    {content: `{"categoria":"Derecho Penal","urgencia":"ALTA"}`},
		"missing urgency":  {content: `{"categoria":"Derecho Penal","titulo":"Robo"}`},
		"unknown category": {content: `{"categoria":"Derecho Espacial","urgencia":"ALTA","titulo":"x"}`},
		"unknown urgency":  {content: `{"categoria":"Derecho Penal","urgencia":"YA","titulo":"x"}`},
		"truncated json":   {content: `{"categoria":"Derecho Penal","urgencia":`},
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			g := New(p, Config{}, nil, nil, nil)
			c, ok := g.Classify(context.Background(), laborTranscript())
			assert.False(t, ok)
			assert.Nil(t, c)
		})
	}
}

func TestClassifyTimeout(t *testing.T) {
	p := &fakeProvider{delay: time.Second, content: `{}`}
	g := New(p, Config{ClassifyTimeout: 20 * time.Millisecond}, nil, nil, nil)

	start := time.Now()
	_, ok := g.Classify(context.Background(), laborTranscript())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReply(t *testing.T) {
	p := &fakeProvider{content: "  ¿Desde cuándo trabajas allí?  "}
	g := New(p, Config{}, nil, nil, nil)

	got := g.Reply(context.Background(), laborTranscript()[:2])
	assert.Equal(t, "¿Desde cuándo trabajas allí?", got)

	req := p.lastRequest()
	assert.Equal(t, 100, req.MaxTokens)
	assert.Equal(t, 0.7, req.Temperature)
	assert.False(t, req.JSONMode)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, protocol.RoleSystem, req.Messages[0].Role)
}

func TestReplyFallbacks(t *testing.T) {
	failing := New(&fakeProvider{err: errors.New("down")}, Config{}, nil, nil, nil)
	assert.Equal(t, fallbackReplies[0], failing.Reply(context.Background(), nil))

	empty := New(&fakeProvider{content: "   "}, Config{}, random.New(3), nil, nil)
	assert.Contains(t, fallbackReplies, empty.Reply(context.Background(), nil))

	// Same seed, same apology.
	a := New(&fakeProvider{err: errors.New("down")}, Config{}, random.New(11), nil, nil)
	b := New(&fakeProvider{err: errors.New("down")}, Config{}, random.New(11), nil, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Reply(context.Background(), nil), b.Reply(context.Background(), nil))
	}
}

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON(`Claro: {"a": "tiene } llave", "b": {"c": 1}} gracias`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": "tiene } llave", "b": {"c": 1}}`, got)

	_, err = extractJSON("sin json")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = extractJSON(strings.Repeat("{", 3))
	assert.ErrorIs(t, err, ErrNoJSON)
}
