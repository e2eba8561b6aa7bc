package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"market-scanner/internal/alerting"
	"market-scanner/internal/model"
)

// SimulateAlert pushes a synthetic verdict through the notification gate
// using the configured channels. Unless opts.Persist is set the dedupe state
// is loaded but not written back.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (alerting.Decision, error) {
	if opts.Symbol == "" {
		return alerting.Decision{}, errors.New("symbol is required")
	}
	if opts.Kind == "" {
		opts.Kind = model.KindEquity
	}
	if !opts.Kind.Valid() {
		return alerting.Decision{}, fmt.Errorf("unknown kind %q", opts.Kind)
	}
	if opts.Decision == "" {
		opts.Decision = model.DecisionEscalate
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return alerting.Decision{}, err
	}
	if notifier == nil {
		return alerting.Decision{}, errors.New("no notification channel configured")
	}

	pg, closeStore, err := a.openStore(ctx)
	if err != nil {
		return alerting.Decision{}, err
	}
	defer closeStore()
	store, closeDedupe, err := a.openDedupeStore(ctx, pg)
	if err != nil {
		return alerting.Decision{}, err
	}
	defer closeDedupe()

	loaded, err := store.LoadDeliveries(ctx)
	if err != nil {
		return alerting.Decision{}, err
	}
	var target alerting.DedupeStore = &previewStore{loaded: loaded}
	if opts.Persist {
		target = store
	}
	state, err := alerting.LoadDedupeState(ctx, target)
	if err != nil {
		return alerting.Decision{}, err
	}

	gate, err := a.newGate(state, notifier)
	if err != nil {
		return alerting.Decision{}, err
	}
	if opts.At != nil {
		at := *opts.At
		gate = gate.WithClock(func() time.Time { return at })
	}

	cand := model.Candidate{Symbol: opts.Symbol, Kind: opts.Kind, Score: opts.PreScore}
	verdict := &model.Verdict{
		Decision:   opts.Decision,
		Score:      opts.Score,
		Confidence: 1,
		Risk:       model.RiskMedium,
		Reason:     opts.Reason,
		Tags:       []string{"simulation"},
	}
	decision := gate.Evaluate(ctx, cand, verdict)
	fmt.Fprintf(os.Stdout, "%s: %s\n", opts.Symbol, decision.Outcome)
	if decision.Err != nil {
		return decision, decision.Err
	}
	return decision, nil
}

// previewStore serves the real state without writing deliveries back.
type previewStore struct {
	loaded map[string]time.Time
}

func (p *previewStore) LoadDeliveries(context.Context) (map[string]time.Time, error) {
	return p.loaded, nil
}

func (p *previewStore) SaveDelivery(context.Context, string, time.Time) error { return nil }

var _ alerting.DedupeStore = (*previewStore)(nil)
