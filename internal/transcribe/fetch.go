package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/legalmeet/intake/pkg/protocol"
)

// HTTPFetcher downloads AudioRef.URL with a plain GET. Username/Password
// enable basic auth (Twilio-style media URLs); BearerToken sets a bearer
// header instead.
type HTTPFetcher struct {
	Client      *http.Client
	Username    string
	Password    string
	BearerToken string
}

// Fetch opens the payload. The caller closes the returned body.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref protocol.AudioRef) (io.ReadCloser, error) {
	if ref.URL == "" {
		return nil, errors.New("audio ref has no URL")
	}
	return Download(ctx, f.client(), ref.URL, f.authorize)
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *HTTPFetcher) authorize(req *http.Request) {
	switch {
	case f.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+f.BearerToken)
	case f.Username != "":
		req.SetBasicAuth(f.Username, f.Password)
	}
}

// Download issues a GET for url and returns the body on 200. authorize, if
// non-nil, may decorate the request. Connectors reuse it for their own
// media endpoints.
func Download(ctx context.Context, client *http.Client, url string, authorize func(*http.Request)) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if authorize != nil {
		authorize(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
