package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ics-monitor/pkg/logger"
)

const maxFeedBytes = 5 << 20 // upstream calendars rarely exceed a few hundred KB

var icsMarker = []byte("BEGIN:VCALENDAR")

// FetchResult is the outcome of one upstream calendar fetch
type FetchResult struct {
	Body       []byte
	StatusCode int
	ElapsedMs  int
}

// Fetcher retrieves upstream ICS calendars on behalf of polling platforms
type Fetcher struct {
	client    *http.Client
	userAgent string
	log       *logger.Logger
}

// NewFetcher creates a fetcher with the given request timeout
func NewFetcher(timeout time.Duration, userAgent string, log *logger.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		log:       log.WithComponent("fetcher"),
	}
}

// Fetch retrieves the calendar at url. It returns an error on transport
// failure, non-2xx status, or a body that is not an ICS calendar; ElapsedMs is
// populated even on failure.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	start := time.Now()
	result := &FetchResult{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, text/plain, */*")

	resp, err := f.client.Do(req)
	result.ElapsedMs = int(time.Since(start).Milliseconds())
	if err != nil {
		return result, fmt.Errorf("fetching upstream: %w", err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	result.ElapsedMs = int(time.Since(start).Milliseconds())
	if err != nil {
		return result, fmt.Errorf("reading upstream body: %w", err)
	}
	result.Body = body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if !bytes.Contains(body, icsMarker) {
		return result, fmt.Errorf("upstream body is not an ICS calendar")
	}
	return result, nil
}
