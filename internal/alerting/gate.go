package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-scanner/internal/model"
)

// ErrDelivery wraps a failed notification send.
var ErrDelivery = errors.New("notification delivery failed")

// Outcome is the terminal state of a candidate at the gate.
type Outcome string

const (
	OutcomeSkipped             Outcome = "skipped"
	OutcomeDelivered           Outcome = "delivered"
	OutcomeSuppressedThreshold Outcome = "suppressed_threshold"
	OutcomeSuppressedQuiet     Outcome = "suppressed_quiet"
	OutcomeSuppressedDedupe    Outcome = "suppressed_dedupe"
	OutcomeFailed              Outcome = "failed"
)

// QuietHours is a local-time window during which nothing is delivered.
// Start is inclusive, End exclusive; Start > End wraps past midnight and
// Start == End disables the window.
type QuietHours struct {
	Location *time.Location
	Start    int
	End      int
}

// Contains reports whether t falls inside the quiet window.
func (q QuietHours) Contains(t time.Time) bool {
	if q.Start == q.End {
		return false
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	return hourInWindow(t.In(loc).Hour(), q.Start, q.End)
}

func hourInWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// GateConfig holds the gate thresholds.
type GateConfig struct {
	Threshold int
	Quiet     QuietHours
	Cooldown  time.Duration
}

// Decision is the gate's verdict for one candidate.
type Decision struct {
	Outcome Outcome
	Err     error
}

// Gate decides whether a judged candidate produces a notification.
type Gate struct {
	cfg      GateConfig
	state    *DedupeState
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

// NewGate constructs a gate. A nil notifier turns delivery into a failure.
func NewGate(cfg GateConfig, state *DedupeState, notifier Notifier, logger zerolog.Logger) *Gate {
	if state == nil {
		state = &DedupeState{last: make(map[string]time.Time)}
	}
	return &Gate{
		cfg:      cfg,
		state:    state,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With().Str("component", "gate").Logger(),
	}
}

// WithClock replaces the gate's clock, used by tests and simulations.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Evaluate runs threshold, quiet-hours and cooldown checks and delivers when
// all pass. Only escalate verdicts are considered.
func (g *Gate) Evaluate(ctx context.Context, c model.Candidate, v *model.Verdict) Decision {
	if !v.Escalates() {
		return Decision{Outcome: OutcomeSkipped}
	}
	log := g.logger.With().Str("symbol", c.Symbol).Int("verdict_score", v.Score).Logger()

	if v.Score < g.cfg.Threshold {
		log.Debug().Int("threshold", g.cfg.Threshold).Msg("below notification threshold")
		return Decision{Outcome: OutcomeSuppressedThreshold}
	}

	now := g.now()
	if g.cfg.Quiet.Contains(now) {
		log.Info().Msg("suppressed by quiet hours")
		return Decision{Outcome: OutcomeSuppressedQuiet}
	}
	if g.state.CoolingDown(c.Symbol, now, g.cfg.Cooldown) {
		log.Info().Dur("cooldown", g.cfg.Cooldown).Msg("suppressed by dedupe cooldown")
		return Decision{Outcome: OutcomeSuppressedDedupe}
	}

	if g.notifier == nil {
		return Decision{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: no notifier configured", ErrDelivery)}
	}
	note := Notification{
		Symbol:    c.Symbol,
		Kind:      c.Kind,
		PreScore:  c.Score,
		Verdict:   *v,
		CreatedAt: now,
	}
	sendErr := g.notifier.Notify(ctx, note)
	if sendErr != nil && !errors.Is(sendErr, ErrPartialDelivery) {
		log.Error().Err(sendErr).Msg("notification failed")
		return Decision{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %v", ErrDelivery, sendErr)}
	}
	if sendErr != nil {
		// some channel delivered, so the cooldown applies
		log.Warn().Err(sendErr).Msg("notification delivered on some channels only")
		sendErr = fmt.Errorf("%w: %w", ErrDelivery, sendErr)
	}

	if err := g.state.Record(ctx, c.Symbol, now); err != nil {
		log.Error().Err(err).Msg("failed to persist dedupe state")
		return Decision{Outcome: OutcomeDelivered, Err: errors.Join(sendErr, err)}
	}
	log.Info().Msg("notification delivered")
	return Decision{Outcome: OutcomeDelivered, Err: sendErr}
}
