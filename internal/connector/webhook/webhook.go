package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/legalmeet/intake/internal/connector"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Channel is the channel name used in session addresses. Senders are
// qualified by endpoint, so an address reads "webhook:ci/42".
const Channel = "webhook"

// Config holds webhook connector configuration.
type Config struct {
	// Endpoints maps endpoint names to their auth settings.
	// e.g., {"web": {BearerToken: "xyz"}, "crm": {Secret: "whsec_abc"}}
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint webhook configuration.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256 header).
	// If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Payload is the expected JSON body for webhook requests. Either Text or
// AudioURL must be set.
type Payload struct {
	SenderID  string `json:"sender_id"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	AudioMime string `json:"audio_mime,omitempty"`
}

// Response is returned once the turn has finished. Replies holds every
// message the assistant sent to the sender while the request was open.
type Response struct {
	Status  string   `json:"status"`
	Replies []string `json:"replies"`
}

// Handler serves webhook endpoints and doubles as their connector.Sender:
// replies to a sender with an open request are returned in its response.
type Handler struct {
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string][]*collector
}

type collector struct {
	replies []string
}

type collectorKey struct{}

// withCollector tags ctx with the request that opened the turn, so replies
// sent during that turn reach only that request.
func withCollector(ctx context.Context, c *collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

// New creates a new webhook handler.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger.With("connector", Channel),
		pending: make(map[string][]*collector),
	}
}

// Name returns the channel name.
func (h *Handler) Name() string { return Channel }

// Send records text for the open request whose turn produced it. Without
// that request in ctx the reply goes to the recipient's oldest open
// request; with none open it is dropped.
func (h *Handler) Send(ctx context.Context, msg connector.OutboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs := h.pending[msg.Recipient]
	if len(cs) == 0 {
		h.logger.Warn("no open request for reply; dropped", "recipient", msg.Recipient)
		return nil
	}
	target := cs[0]
	if c, ok := ctx.Value(collectorKey{}).(*collector); ok {
		if !slices.Contains(cs, c) {
			h.logger.Warn("request closed before reply; dropped", "recipient", msg.Recipient)
			return nil
		}
		target = c
	}
	target.replies = append(target.replies, msg.Text)
	return nil
}

func (h *Handler) open(recipient string) *collector {
	c := &collector{}
	h.mu.Lock()
	h.pending[recipient] = append(h.pending[recipient], c)
	h.mu.Unlock()
	return c
}

func (h *Handler) close(recipient string, c *collector) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs := h.pending[recipient]
	for i, x := range cs {
		if x == c {
			cs = append(cs[:i], cs[i+1:]...)
			break
		}
	}
	if len(cs) == 0 {
		delete(h.pending, recipient)
	} else {
		h.pending[recipient] = cs
	}
	return c.replies
}

var _ connector.Sender = (*Handler)(nil)

// ServeHTTP handles webhook requests at /api/webhook/{endpoint_name}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract endpoint name from path: /api/webhook/{name}
	name := extractName(r.URL.Path)
	if name == "" {
		http.Error(w, "missing endpoint name in path", http.StatusBadRequest)
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown webhook endpoint: %s", name), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, endpoint, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(payload.Text) == "" && payload.AudioURL == "" {
		http.Error(w, "text or audio_url is required", http.StatusBadRequest)
		return
	}

	senderID := payload.SenderID
	if senderID == "" {
		senderID = name
	}
	inbound := protocol.InboundMessage{
		Channel:   Channel,
		Sender:    name + "/" + senderID,
		MessageID: payload.MessageID,
		Text:      payload.Text,
	}
	if payload.AudioURL != "" {
		inbound.Audio = &protocol.AudioRef{Channel: Channel, URL: payload.AudioURL, MimeType: payload.AudioMime}
	}

	c := h.open(inbound.Sender)
	err = h.handler(withCollector(r.Context(), c), inbound)
	replies := h.close(inbound.Sender, c)
	if err != nil {
		h.logger.Error("webhook handler error",
			"endpoint", name,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if replies == nil {
		replies = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{Status: "ok", Replies: replies})
}

func (h *Handler) authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return VerifySignature(body, endpoint.Secret, sig)
	}

	if endpoint.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return auth == "Bearer "+endpoint.BearerToken
	}

	// No auth configured, allowed for local development.
	return true
}

// VerifySignature checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func VerifySignature(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	expectedMAC, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ComputeSignature generates an HMAC-SHA256 signature for clients and tests.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
