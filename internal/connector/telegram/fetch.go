package telegram

import (
	"context"
	"fmt"
	"io"

	"github.com/legalmeet/intake/internal/transcribe"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Fetch opens a voice note or audio file by its Telegram file ID. The
// direct URL embeds the bot token, so no extra authorization is sent.
func (c *Connector) Fetch(ctx context.Context, ref protocol.AudioRef) (io.ReadCloser, error) {
	if ref.ID == "" {
		return nil, fmt.Errorf("telegram: audio ref has no file id")
	}
	url, err := c.fileURL(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("telegram: get file url: %w", err)
	}
	return transcribe.Download(ctx, c.client, url, nil)
}

var _ transcribe.Fetcher = (*Connector)(nil)
