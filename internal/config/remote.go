package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteOptions locates a configuration document served over HTTP, for
// deployments that keep secrets in a central config service.
type RemoteOptions struct {
	URL   string // e.g. https://config.internal/intake.json
	Token string // sent as a bearer token when set
	// DeploymentID is sent as X-Deployment-ID so one service can host
	// several intake deployments.
	DeploymentID string
}

// LoadFromURL fetches, parses and validates a JSON config document.
func LoadFromURL(ctx context.Context, opts RemoteOptions) (*Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("config: create request: %w", err)
	}
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}
	if opts.DeploymentID != "" {
		req.Header.Set("X-Deployment-ID", opts.DeploymentID)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config: fetch %s: %w", opts.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("config: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config: fetch %s: HTTP %d: %s", opts.URL, resp.StatusCode, body)
	}

	return parse(body, opts.URL)
}
