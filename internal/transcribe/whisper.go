package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperConfig holds speech-to-text service settings.
type WhisperConfig struct {
	// URL is the transcription endpoint. Any OpenAI-compatible
	// /audio/transcriptions endpoint works (OpenAI, Groq, ...).
	// Default: https://api.openai.com/v1/audio/transcriptions
	URL string
	// APIKey is sent as a bearer token.
	APIKey string
	// Model defaults to "whisper-1".
	Model string
	// Language is the ISO-639-1 hint. Default "es".
	Language string
}

// WhisperClient sends audio to a Whisper-compatible API.
type WhisperClient struct {
	config WhisperConfig
	client *http.Client
}

// NewWhisperClient creates a client with defaults filled in.
func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	if cfg.URL == "" {
		cfg.URL = "https://api.openai.com/v1/audio/transcriptions"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	return &WhisperClient{
		config: cfg,
		// The gateway context bounds each call; this is a backstop.
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type whisperResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audio as a multipart form and returns the text.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	mw.WriteField("model", w.config.Model)
	mw.WriteField("language", w.config.Language)
	mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse whisper response: %w", err)
	}
	return result.Text, nil
}
