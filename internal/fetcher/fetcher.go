package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"market-scanner/internal/model"
)

// ErrDataUnavailable marks an upstream fetch that failed or returned no
// usable history.
var ErrDataUnavailable = errors.New("data unavailable")

// ErrUpstreamUnreachable marks a transport failure talking to the host.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// HTTPError is a non-200 upstream response.
type HTTPError struct {
	Status int
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: HTTP %d for %s: %s", ErrDataUnavailable, e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d for %s", ErrDataUnavailable, e.Status, e.URL)
}

func (e *HTTPError) Unwrap() error { return ErrDataUnavailable }

// HostFailure reports whether err says the host itself is unhealthy, as
// opposed to a problem with one symbol. 4xx responses other than 429 and
// unusable payloads are per-symbol.
func HostFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, ErrUpstreamUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !errors.Is(err, ErrDataUnavailable)
}

// SeriesSource retrieves price history for one instrument.
type SeriesSource interface {
	FetchSeries(ctx context.Context, symbol string, kind model.SeriesKind) (model.PriceSeries, error)
}

// FundamentalsSource retrieves optional financial ratios. A nil record with
// a nil error means the upstream had nothing for the symbol.
type FundamentalsSource interface {
	FetchFundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error)
}

// NewsSource returns de-duplicated headlines for a query, at most max.
type NewsSource interface {
	Headlines(ctx context.Context, query string, max int) ([]string, error)
}

func getBytes(ctx context.Context, client *http.Client, url, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	if ua := strings.TrimSpace(userAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrDataUnavailable, ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: read body: %w", ErrDataUnavailable, ErrUpstreamUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, url, payload)
	}
	return payload, nil
}

func parseHTTPError(status int, url string, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > 200 {
		body = body[:200]
	}
	return &HTTPError{Status: status, URL: url, Body: body}
}
