// Package transcribe turns audio messages into text. The Gateway bounds the
// whole operation with a hard timeout and guards payload type and size, so
// callers always get an answer before the messaging channel gives up on the
// request.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Reason classifies why a transcription failed.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonOversized   Reason = "oversized"
	ReasonFetch       Reason = "fetch"
	ReasonUnsupported Reason = "unsupported"
	ReasonEmpty       Reason = "empty"
	ReasonService     Reason = "service"
)

// Failure is the only error type returned by Gateway.Transcribe.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "transcribe: " + string(f.Reason)
	}
	return fmt.Sprintf("transcribe: %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonOf returns the failure reason carried by err, or "" when err is not
// a *Failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}

// Fetcher downloads the audio payload an AudioRef points at. Each channel
// registers its own: WhatsApp resolves media IDs, Telegram file IDs.
type Fetcher interface {
	Fetch(ctx context.Context, ref protocol.AudioRef) (io.ReadCloser, error)
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Config bounds the gateway.
type Config struct {
	// FetchTimeout bounds the download alone. Default 5s.
	FetchTimeout time.Duration
	// Timeout bounds the whole operation. Default 8s.
	Timeout time.Duration
	// MaxBytes is the largest accepted payload. Default 512000.
	MaxBytes int64
}

const (
	DefaultFetchTimeout = 5 * time.Second
	DefaultTimeout      = 8 * time.Second
	DefaultMaxBytes     = 500 * 1024
)

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return c
}

// Gateway wraps a Transcriber with fetching, guards and a timeout race.
type Gateway struct {
	config      Config
	fetchers    map[string]Fetcher
	fallback    Fetcher
	transcriber Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewGateway creates a gateway. fallback serves refs whose channel has no
// registered fetcher and may be nil.
func NewGateway(cfg Config, transcriber Transcriber, fallback Fetcher, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:      cfg.withDefaults(),
		fetchers:    make(map[string]Fetcher),
		fallback:    fallback,
		transcriber: transcriber,
		metrics:     m,
		logger:      logger.With("component", "transcribe"),
	}
}

// RegisterFetcher sets the fetcher for a channel. Call before serving.
func (g *Gateway) RegisterFetcher(channel string, f Fetcher) {
	g.fetchers[channel] = f
}

type result struct {
	text string
	err  error
}

// Transcribe returns the trimmed transcription of ref. Every error is a
// *Failure. When the overall timeout fires first, Transcribe returns at once
// and the worker's eventual result is discarded.
func (g *Gateway) Transcribe(ctx context.Context, ref protocol.AudioRef) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &Failure{Reason: ReasonService, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		text, err := g.run(ctx, ref)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: &Failure{Reason: ReasonTimeout, Err: ctx.Err()}}
	}

	outcome := "ok"
	if res.err != nil {
		outcome = string(ReasonOf(res.err))
		g.logger.Warn("transcription failed",
			"channel", ref.Channel,
			"reason", outcome,
			"elapsed", time.Since(start).String(),
			"error", res.err,
		)
	} else {
		g.logger.Info("audio transcribed",
			"channel", ref.Channel,
			"chars", len([]rune(res.text)),
			"elapsed", time.Since(start).String(),
		)
	}
	g.metrics.Transcription(outcome)
	return res.text, res.err
}

func (g *Gateway) run(ctx context.Context, ref protocol.AudioRef) (string, error) {
	if ref.MimeType != "" && !IsAudio(ref.MimeType) {
		return "", &Failure{Reason: ReasonUnsupported, Err: fmt.Errorf("mime type %q", ref.MimeType)}
	}
	if g.transcriber == nil {
		return "", &Failure{Reason: ReasonService, Err: errors.New("no transcriber configured")}
	}

	audio, err := g.fetch(ctx, ref)
	if err != nil {
		return "", err
	}

	text, err := g.transcriber.Transcribe(ctx, audio, filename(ref.MimeType))
	if err != nil {
		if ctx.Err() != nil {
			return "", &Failure{Reason: ReasonTimeout, Err: err}
		}
		return "", &Failure{Reason: ReasonService, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &Failure{Reason: ReasonEmpty}
	}
	return text, nil
}

func (g *Gateway) fetch(ctx context.Context, ref protocol.AudioRef) ([]byte, error) {
	f := g.fetchers[ref.Channel]
	if f == nil {
		f = g.fallback
	}
	if f == nil {
		return nil, &Failure{Reason: ReasonFetch, Err: fmt.Errorf("no fetcher for channel %q", ref.Channel)}
	}

	fctx, cancel := context.WithTimeout(ctx, g.config.FetchTimeout)
	defer cancel()

	body, err := f.Fetch(fctx, ref)
	if err != nil {
		return nil, fetchFailure(ctx, err)
	}
	defer body.Close()

	// One byte past the ceiling is enough to tell "exactly MaxBytes" from
	// "too large" without reading the rest.
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, g.config.MaxBytes+1))
	if err != nil {
		return nil, fetchFailure(ctx, err)
	}
	if n > g.config.MaxBytes {
		return nil, &Failure{Reason: ReasonOversized, Err: fmt.Errorf("payload exceeds %d bytes", g.config.MaxBytes)}
	}
	if n == 0 {
		return nil, &Failure{Reason: ReasonFetch, Err: errors.New("empty payload")}
	}
	return buf.Bytes(), nil
}

// fetchFailure attributes a fetch error to the overall deadline when that
// is what expired, and to the fetch otherwise.
func fetchFailure(overall context.Context, err error) error {
	if overall.Err() != nil {
		return &Failure{Reason: ReasonTimeout, Err: err}
	}
	return &Failure{Reason: ReasonFetch, Err: err}
}

var audioTypes = []string{
	"audio/ogg",
	"audio/mpeg",
	"audio/mp4",
	"audio/amr",
	"audio/wav",
	"audio/webm",
	"audio/aac",
	"audio/x-m4a",
}

// IsAudio reports whether the MIME type is one the transcriber accepts.
// Parameters such as "; codecs=opus" are ignored.
func IsAudio(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	for _, t := range audioTypes {
		if strings.HasPrefix(mt, t) {
			return true
		}
	}
	return false
}

func filename(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "mpeg"):
		return "audio.mp3"
	case strings.Contains(mt, "mp4"), strings.Contains(mt, "m4a"), strings.Contains(mt, "aac"):
		return "audio.m4a"
	case strings.Contains(mt, "wav"):
		return "audio.wav"
	case strings.Contains(mt, "webm"):
		return "audio.webm"
	case strings.Contains(mt, "amr"):
		return "audio.amr"
	}
	return "audio.ogg"
}
