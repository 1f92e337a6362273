package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legalmeet/intake/internal/connector"
	"github.com/legalmeet/intake/internal/metrics"
)

// DefaultSendTimeout bounds each outbound send.
const DefaultSendTimeout = 10 * time.Second

// Dispatcher routes replies to the connector of the channel they came from.
type Dispatcher struct {
	mu      sync.RWMutex
	senders map[string]connector.Sender
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher with no channels registered.
func NewDispatcher(timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		senders: make(map[string]connector.Sender),
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Register routes channel to s, replacing any previous sender.
func (d *Dispatcher) Register(channel string, s connector.Sender) {
	d.mu.Lock()
	d.senders[channel] = s
	d.mu.Unlock()
}

// Channels returns the registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.senders))
	for ch := range d.senders {
		out = append(out, ch)
	}
	return out
}

// Send delivers text to recipient on channel. Failures are logged and
// counted before being returned.
func (d *Dispatcher) Send(ctx context.Context, channel, recipient, text string) error {
	d.mu.RLock()
	s, ok := d.senders[channel]
	d.mu.RUnlock()
	if !ok {
		d.metrics.SendFailed(channel)
		d.logger.Error("no sender for channel", "channel", channel, "recipient", recipient)
		return fmt.Errorf("dispatcher: unknown channel %q", channel)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := s.Send(ctx, connector.OutboundMessage{Recipient: recipient, Text: text}); err != nil {
		d.metrics.SendFailed(channel)
		d.logger.Warn("send failed", "channel", channel, "recipient", recipient, "error", err)
		return fmt.Errorf("dispatcher: send %s: %w", channel, err)
	}
	return nil
}
