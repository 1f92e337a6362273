// Package whatsapp connects to the WhatsApp Business Cloud API: it serves
// the webhook Meta calls for inbound messages, sends replies through the
// Graph API and resolves voice-note media for transcription.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/legalmeet/intake/internal/connector"
	"github.com/legalmeet/intake/internal/connector/webhook"
	"github.com/legalmeet/intake/internal/transcribe"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Channel is the channel name used in session addresses.
const Channel = "whatsapp"

// Config holds WhatsApp Cloud API configuration.
type Config struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	// VerifyToken is echoed back by Meta during the subscription handshake.
	VerifyToken string `json:"verify_token"`
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string `json:"app_secret,omitempty"`
	// GraphURL defaults to https://graph.facebook.com/v18.0.
	GraphURL string `json:"graph_url,omitempty"`
	// ProcessTimeout bounds the background handling of one message. Default 15s.
	ProcessTimeout time.Duration `json:"process_timeout,omitempty"`
}

const (
	defaultGraphURL       = "https://graph.facebook.com/v18.0"
	defaultProcessTimeout = 15 * time.Second

	unsupportedReply = "Por el momento solo puedo procesar mensajes de texto o audio. 😊"
)

// Connector implements connector.Connector and transcribe.Fetcher for
// WhatsApp. Mount it as an http.Handler at the webhook path.
type Connector struct {
	config  Config
	client  *http.Client
	handler connector.InboundHandler
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a WhatsApp connector. handler receives every text or audio
// message; it runs in the background after the webhook has been answered.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Connector {
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	cfg.GraphURL = strings.TrimSuffix(cfg.GraphURL, "/")
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Connector{
		config:  cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		handler: handler,
		logger:  logger.With("connector", Channel),
		base:    base,
		cancel:  cancel,
	}
}

func (c *Connector) Name() string { return Channel }

// Start blocks until ctx is cancelled, then waits for in-flight messages.
// Inbound traffic arrives through ServeHTTP.
func (c *Connector) Start(ctx context.Context) error {
	c.logger.Info("whatsapp connector started", "phone_number_id", c.config.PhoneNumberID)
	<-ctx.Done()
	c.Stop()
	c.logger.Info("whatsapp connector stopped")
	return ctx.Err()
}

// Stop cancels in-flight handling and waits for it to return.
func (c *Connector) Stop() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// ServeHTTP answers the verification handshake (GET) and inbound
// notifications (POST).
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.verify(w, r)
	case http.MethodPost:
		c.receive(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Connector) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && c.config.VerifyToken != "" && q.Get("hub.verify_token") == c.config.VerifyToken {
		c.logger.Info("webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	c.logger.Warn("webhook verification failed", "mode", q.Get("hub.mode"))
	http.Error(w, "forbidden", http.StatusForbidden)
}

func (c *Connector) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if c.config.AppSecret != "" && !webhook.VerifySignature(body, c.config.AppSecret, r.Header.Get("X-Hub-Signature-256")) {
		c.logger.Warn("invalid webhook signature")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	// Meta retries anything not acknowledged quickly, so handling happens
	// after the response.
	for _, m := range payload.messages() {
		c.wg.Add(1)
		go func(m inboundMessage) {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(c.base, c.config.ProcessTimeout)
			defer cancel()
			c.process(ctx, m)
		}(m)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (c *Connector) process(ctx context.Context, m inboundMessage) {
	logger := c.logger.With("from", m.From, "message_id", m.ID, "type", m.Type)

	if err := c.markRead(ctx, m.ID); err != nil {
		logger.Debug("mark as read failed", "error", err)
	}

	inbound := protocol.InboundMessage{
		Channel:   Channel,
		Sender:    m.From,
		MessageID: m.ID,
	}
	switch {
	case m.Type == "text" && m.Text != nil:
		inbound.Text = m.Text.Body
	case m.media() != nil:
		media := m.media()
		inbound.Audio = &protocol.AudioRef{Channel: Channel, ID: media.ID, MimeType: media.MimeType}
	default:
		logger.Info("unsupported message type")
		if err := c.Send(ctx, connector.OutboundMessage{Recipient: m.From, Text: unsupportedReply}); err != nil {
			logger.Warn("unsupported reply failed", "error", err)
		}
		return
	}

	if err := c.handler(ctx, inbound); err != nil {
		logger.Error("inbound handler error", "error", err)
	}
}

// Send delivers a text message.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		c.logger.Warn("skipping empty message", "to", msg.Recipient)
		return nil
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                normalizeNumber(msg.Recipient),
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        msg.Text,
		},
	})
}

func (c *Connector) markRead(ctx context.Context, messageID string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
}

func (c *Connector) post(ctx context.Context, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal: %w", err)
	}
	url := c.config.GraphURL + "/" + c.config.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: api error (status %d): %s", resp.StatusCode, snippet)
	}
	return nil
}

// Fetch resolves a media id to its download URL and opens it.
func (c *Connector) Fetch(ctx context.Context, ref protocol.AudioRef) (io.ReadCloser, error) {
	if ref.ID == "" {
		return nil, fmt.Errorf("whatsapp: audio ref has no media id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.GraphURL+"/"+ref.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: media lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whatsapp: media lookup status %d", resp.StatusCode)
	}

	var media struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return nil, fmt.Errorf("whatsapp: decode media: %w", err)
	}
	if media.URL == "" {
		return nil, fmt.Errorf("whatsapp: media %s has no url", ref.ID)
	}
	return transcribe.Download(ctx, c.client, media.URL, c.authorize)
}

func (c *Connector) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
}

// normalizeNumber strips the prefixes other gateways put on numbers.
func normalizeNumber(to string) string {
	to = strings.TrimPrefix(to, "whatsapp:")
	return strings.TrimPrefix(to, "+")
}

var (
	_ connector.Connector = (*Connector)(nil)
	_ transcribe.Fetcher  = (*Connector)(nil)
)
