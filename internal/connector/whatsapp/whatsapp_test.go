package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmeet/intake/internal/connector"
	"github.com/legalmeet/intake/internal/connector/webhook"
	"github.com/legalmeet/intake/pkg/protocol"
)

// graph fakes the Graph API endpoints the connector calls.
type graph struct {
	mu    sync.Mutex
	posts []map[string]any
	auth  []string
	srv   *httptest.Server
}

func newGraph(t *testing.T) *graph {
	g := &graph{}
	mux := http.NewServeMux()
	mux.HandleFunc("/PHONE/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.posts = append(g.posts, body)
		g.auth = append(g.auth, r.Header.Get("Authorization"))
		g.mu.Unlock()
		w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	})
	mux.HandleFunc("/MEDIA1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer TOKEN" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"url":       g.srv.URL + "/files/voice.ogg",
			"mime_type": "audio/ogg",
		})
	})
	mux.HandleFunc("/files/voice.ogg", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer TOKEN" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("OggS-audio"))
	})
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *graph) sent() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.posts...)
}

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.InboundMessage
}

func (b *inbox) handle(_ context.Context, msg protocol.InboundMessage) error {
	b.mu.Lock()
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()
	return nil
}

func (b *inbox) all() []protocol.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.InboundMessage(nil), b.msgs...)
}

func newConnector(t *testing.T, g *graph, mutate ...func(*Config)) (*Connector, *inbox) {
	cfg := Config{
		PhoneNumberID: "PHONE",
		AccessToken:   "TOKEN",
		VerifyToken:   "verify-me",
		GraphURL:      g.srv.URL + "/",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	b := &inbox{}
	c := New(cfg, b.handle, nil)
	t.Cleanup(func() { c.Stop() })
	return c, b
}

func notification(msg string) string {
	return `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","messages":[` + msg + `]}}]}]}`
}

func deliver(t *testing.T, c *Connector, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)
	return w
}

func TestVerifyHandshake(t *testing.T) {
	c, _ := newConnector(t, newGraph(t))

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w = httptest.NewRecorder()
	c.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTextMessageForwarded(t *testing.T) {
	g := newGraph(t)
	c, b := newConnector(t, g)

	w := deliver(t, c, notification(`{"from":"573001234567","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"Me despidieron"}}`))
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, time.Second, 5*time.Millisecond)
	msg := b.all()[0]
	assert.Equal(t, "whatsapp:573001234567", msg.Address())
	assert.Equal(t, "wamid.1", msg.MessageID)
	assert.Equal(t, "Me despidieron", msg.Text)
	assert.False(t, msg.HasAudio())

	require.Eventually(t, func() bool { return len(g.sent()) == 1 }, time.Second, 5*time.Millisecond)
	read := g.sent()[0]
	assert.Equal(t, "read", read["status"])
	assert.Equal(t, "wamid.1", read["message_id"])
}

func TestVoiceMessageBecomesAudioRef(t *testing.T) {
	c, b := newConnector(t, newGraph(t))

	deliver(t, c, notification(`{"from":"573001234567","id":"wamid.2","type":"audio","audio":{"id":"MEDIA1","mime_type":"audio/ogg; codecs=opus"}}`))

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, time.Second, 5*time.Millisecond)
	msg := b.all()[0]
	require.True(t, msg.HasAudio())
	assert.Equal(t, protocol.AudioRef{Channel: Channel, ID: "MEDIA1", MimeType: "audio/ogg; codecs=opus"}, *msg.Audio)
	assert.Empty(t, msg.Text)
}

func TestUnsupportedTypeAnsweredDirectly(t *testing.T) {
	g := newGraph(t)
	c, b := newConnector(t, g)

	deliver(t, c, notification(`{"from":"573001234567","id":"wamid.3","type":"image","image":{"id":"IMG"}}`))

	require.Eventually(t, func() bool { return len(g.sent()) == 2 }, time.Second, 5*time.Millisecond)
	reply := g.sent()[1]
	assert.Equal(t, "573001234567", reply["to"])
	assert.Equal(t, unsupportedReply, reply["text"].(map[string]any)["body"])
	assert.Empty(t, b.all())
}

func TestStatusUpdatesIgnored(t *testing.T) {
	g := newGraph(t)
	c, b := newConnector(t, g)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.out","status":"delivered"}]}}]}]}`
	w := deliver(t, c, body)
	assert.Equal(t, http.StatusOK, w.Code)

	c.Stop()
	assert.Empty(t, b.all())
	assert.Empty(t, g.sent())
}

func TestSignatureRequiredWithAppSecret(t *testing.T) {
	c, b := newConnector(t, newGraph(t), func(cfg *Config) { cfg.AppSecret = "app-secret" })
	body := notification(`{"from":"1","id":"wamid.4","type":"text","text":{"body":"hola"}}`)

	w := deliver(t, c, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = deliver(t, c, body, "X-Hub-Signature-256", webhook.ComputeSignature([]byte(body), "app-secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return len(b.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestInvalidJSONRejected(t *testing.T) {
	c, _ := newConnector(t, newGraph(t))
	w := deliver(t, c, "{nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendPayload(t *testing.T) {
	g := newGraph(t)
	c, _ := newConnector(t, g)

	err := c.Send(context.Background(), connector.OutboundMessage{Recipient: "+573001234567", Text: "Hola 👋"})
	require.NoError(t, err)

	sent := g.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "whatsapp", sent[0]["messaging_product"])
	assert.Equal(t, "individual", sent[0]["recipient_type"])
	assert.Equal(t, "573001234567", sent[0]["to"])
	assert.Equal(t, "text", sent[0]["type"])
	assert.Equal(t, map[string]any{"preview_url": false, "body": "Hola 👋"}, sent[0]["text"])
	assert.Equal(t, "Bearer TOKEN", g.auth[0])
}

func TestSendSkipsEmpty(t *testing.T) {
	g := newGraph(t)
	c, _ := newConnector(t, g)
	require.NoError(t, c.Send(context.Background(), connector.OutboundMessage{Recipient: "1", Text: "  "}))
	assert.Empty(t, g.sent())
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid OAuth access token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{PhoneNumberID: "PHONE", GraphURL: srv.URL}, nil, nil)
	err := c.Send(context.Background(), connector.OutboundMessage{Recipient: "1", Text: "hola"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "Invalid OAuth")
}

func TestFetchMedia(t *testing.T) {
	c, _ := newConnector(t, newGraph(t))

	rc, err := c.Fetch(context.Background(), protocol.AudioRef{Channel: Channel, ID: "MEDIA1"})
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "OggS-audio", string(data))
}

func TestFetchErrors(t *testing.T) {
	c, _ := newConnector(t, newGraph(t))

	_, err := c.Fetch(context.Background(), protocol.AudioRef{Channel: Channel})
	assert.Error(t, err)

	_, err = c.Fetch(context.Background(), protocol.AudioRef{Channel: Channel, ID: "MISSING"})
	assert.Error(t, err)
}

func TestStartReturnsOnCancel(t *testing.T) {
	c, _ := newConnector(t, newGraph(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
}

func TestNormalizeNumber(t *testing.T) {
	assert.Equal(t, "573001234567", normalizeNumber("+573001234567"))
	assert.Equal(t, "573001234567", normalizeNumber("whatsapp:+573001234567"))
	assert.Equal(t, "573001234567", normalizeNumber("573001234567"))
}
