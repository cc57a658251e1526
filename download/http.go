package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// HTTPFetcher downloads "<BaseURL>/<slug>" with a plain GET.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	// Limiter throttles request starts against the registry. Nil means
	// unlimited.
	Limiter *rate.Limiter
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher using http.DefaultClient.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: strings.TrimRight(baseURL, "/"), Client: http.DefaultClient}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, slug string, w io.Writer) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("download: rate limit %s: %w", slug, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/"+url.PathEscape(slug), nil)
	if err != nil {
		return fmt.Errorf("download: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: fetch %s: %w", slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: fetch %s: unexpected status %s", slug, resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download: read %s: %w", slug, err)
	}

	return nil
}
