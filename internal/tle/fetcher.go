package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/orbview/internal/metrics"
)

// DefaultSourceURL is Celestrak's active-satellites group.
const DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle"

// maxBodyBytes caps a single response body.
const maxBodyBytes = 50 << 20

// Downloader fetches a fresh snapshot on cache miss.
type Downloader interface {
	Download(ctx context.Context) (*Snapshot, error)
}

// Fetcher downloads TLE text over HTTP from a primary URL and optional extra
// URLs, and parses it into a snapshot.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewFetcher creates a Fetcher. An empty sourceURL uses DefaultSourceURL.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// SourceURL returns the primary source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch returns the raw TLE text. The primary URL must succeed; extra URL
// failures are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(body)
	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra TLE source failed", "url", u, "error", err)
			continue
		}
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.Write(extra)
	}
	return buf.Bytes(), nil
}

// Download fetches and parses a snapshot stamped with the current time.
func (f *Fetcher) Download(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	data, err := f.Fetch(ctx)
	metrics.ObserveTLEDownload(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	records, err := Parse(bytes.NewReader(data), f.logger)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("downloaded TLE data contains no valid records")
	}

	snap := NewSnapshot(records, f.now().Truncate(time.Second))
	snap.Source = f.sourceURL

	f.logger.Info("downloaded TLE data",
		"source_url", f.sourceURL,
		"satellite_count", snap.Len(),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
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
