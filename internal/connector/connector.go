package connector

import (
	"context"

	"github.com/legalmeet/intake/pkg/protocol"
)

// Connector is the interface for external messaging platforms (WhatsApp, Telegram, etc.).
type Connector interface {
	// Name returns the channel name used in session addresses (e.g., "whatsapp").
	Name() string
	// Start begins receiving inbound messages. Blocks until context is cancelled.
	// Webhook-driven connectors receive messages through their HTTP handler
	// and only hold their lifecycle here.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	Sender
}

// Sender delivers outbound text to a platform.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a reply sent to a user on an external platform.
type OutboundMessage struct {
	Recipient string // Platform-specific sender identifier, as received inbound
	Text      string
}

// InboundHandler processes messages received from external platforms.
type InboundHandler func(ctx context.Context, msg protocol.InboundMessage) error
