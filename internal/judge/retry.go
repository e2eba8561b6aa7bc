package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRateLimited marks a transient rate-limit response.
	ErrRateLimited = errors.New("judge rate limited")
	// ErrRetriesExhausted is returned once the retry budget is spent.
	ErrRetriesExhausted = errors.New("judge retries exhausted")
)

// RateLimitError carries the wait advertised by the service, if any.
type RateLimitError struct {
	RetryAfter time.Duration
	Status     int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("judge rate limited (HTTP %d), retry after %s", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("judge rate limited (HTTP %d)", e.Status)
}

// Is lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryPolicy bounds the retries spent on rate-limit responses.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Step       time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries four times with 2s, 4s, 6s, 8s fallbacks.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 4, BaseDelay: 2 * time.Second, Step: 2 * time.Second, MaxDelay: time.Minute}
}

// Delay returns the wait before retry number attempt (0-based). An advertised
// wait wins over the fallback schedule.
func (p RetryPolicy) Delay(attempt int, advertised time.Duration) time.Duration {
	d := advertised
	if d <= 0 {
		d = p.BaseDelay + time.Duration(attempt)*p.Step
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails with a non rate-limit error, or the
// retry budget is spent. It returns the number of retries performed.
func (p RetryPolicy) Do(ctx context.Context, sleep SleepFunc, fn func(ctx context.Context) error) (int, error) {
	if sleep == nil {
		sleep = ContextSleep
	}
	retries := 0
	for {
		err := fn(ctx)
		if err == nil {
			return retries, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return retries, err
		}
		if retries >= p.MaxRetries {
			return retries, fmt.Errorf("%w after %d retries: %v", ErrRetriesExhausted, retries, err)
		}
		var advertised time.Duration
		var rl *RateLimitError
		if errors.As(err, &rl) {
			advertised = rl.RetryAfter
		}
		if serr := sleep(ctx, p.Delay(retries, advertised)); serr != nil {
			return retries, serr
		}
		retries++
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		// OpenAI-compatible services also advertise reset in milliseconds
		v = strings.TrimSpace(h.Get("Retry-After-Ms"))
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
