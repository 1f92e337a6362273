package protocol

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is a single transcript entry. Order is significant: the
// transcript is fed to classification as-is.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AudioRef points at an audio payload held by a messaging platform.
// Which fields are set depends on the channel: WhatsApp sends a media ID,
// Telegram a file ID, plain webhooks a URL.
type AudioRef struct {
	Channel  string `json:"channel"`
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// InboundMessage is one user message delivered by a messaging gateway.
type InboundMessage struct {
	Channel   string    `json:"channel"`
	Sender    string    `json:"sender"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Audio     *AudioRef `json:"audio,omitempty"`
}

// Address is the stable session key for the message: the channel-qualified
// sender, e.g. "whatsapp:573001234567".
func (m InboundMessage) Address() string {
	return m.Channel + ":" + m.Sender
}

// HasAudio reports whether the message carries an audio payload instead of text.
func (m InboundMessage) HasAudio() bool {
	return m.Audio != nil
}
