package whatsapp

// webhookPayload is the subset of the Cloud API notification we read.
// Status updates (sent, delivered, read) arrive in the same envelope with
// no messages and are ignored.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Audio *media `json:"audio,omitempty"`
	Voice *media `json:"voice,omitempty"`
}

type media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

func (m inboundMessage) media() *media {
	switch {
	case m.Type == "audio" && m.Audio != nil:
		return m.Audio
	case m.Type == "voice" && m.Voice != nil:
		return m.Voice
	}
	return nil
}

func (p webhookPayload) messages() []inboundMessage {
	var out []inboundMessage
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			out = append(out, ch.Value.Messages...)
		}
	}
	return out
}
