package neo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBodyBytes caps a single source response.
const maxBodyBytes = 50 << 20

// Fetcher retrieves population JSON from a primary source plus optional
// extra sources whose records are appended.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for sourceURL and any extra URLs.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the primary source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch downloads the primary source and merges every extra source into a
// single JSON array. A failing primary is an error; a failing extra is
// logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.sourceURL == "" {
		return nil, fmt.Errorf("no population source URL configured")
	}

	primary, err := f.fetchOne(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}
	if len(f.extraURLs) == 0 {
		return primary, nil
	}

	merged, err := decodeArray(bytes.NewReader(primary))
	if err != nil {
		return nil, fmt.Errorf("primary source %s: %w", f.sourceURL, err)
	}

	for _, u := range f.extraURLs {
		data, err := f.fetchOne(ctx, u)
		if err != nil {
			f.logger.Warn("extra population source failed", "component", "neo", "url", u, "error", err)
			continue
		}
		extra, err := decodeArray(bytes.NewReader(data))
		if err != nil {
			f.logger.Warn("extra population source unreadable", "component", "neo", "url", u, "error", err)
			continue
		}
		merged = append(merged, extra...)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged population: %w", err)
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching population: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	return body, nil
}
