package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"market-scanner/internal/model"
)

// BreakerOptions configure a circuit breaker around a series source.
type BreakerOptions struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	// MaxRequests is the number of probes allowed while half-open; set it to
	// the worker count so concurrent fetches are not rejected.
	MaxRequests uint32
}

// BreakingSource stops calling an upstream after repeated failures so a dead
// host fails fast instead of eating every worker's timeout.
type BreakingSource struct {
	next SeriesSource
	cb   *gobreaker.CircuitBreaker
}

// NewBreakingSource wraps next with a circuit breaker. Only host failures
// (see HostFailure) count towards tripping it.
func NewBreakingSource(next SeriesSource, opts BreakerOptions) *BreakingSource {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 60 * time.Second
	}
	if opts.MaxRequests == 0 {
		opts.MaxRequests = 1
	}
	threshold := opts.ConsecutiveFailures
	st := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !HostFailure(err)
		},
	}
	return &BreakingSource{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// FetchSeries delegates to the wrapped source unless the breaker is open.
func (b *BreakingSource) FetchSeries(ctx context.Context, symbol string, kind model.SeriesKind) (model.PriceSeries, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.FetchSeries(ctx, symbol, kind)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return model.PriceSeries{}, fmt.Errorf("%w: %s circuit %s", ErrDataUnavailable, b.cb.Name(), err)
		}
		return model.PriceSeries{}, err
	}
	return out.(model.PriceSeries), nil
}

// State exposes the breaker state for logging.
func (b *BreakingSource) State() string { return b.cb.State().String() }

var _ SeriesSource = (*BreakingSource)(nil)
