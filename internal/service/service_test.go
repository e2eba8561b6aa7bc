package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-scanner/internal/alerting"
	"market-scanner/internal/fetcher"
	"market-scanner/internal/judge"
	"market-scanner/internal/model"
	"market-scanner/internal/pipeline"
	"market-scanner/internal/report"
)

type seriesByKind map[string]model.PriceSeries

func (s seriesByKind) FetchSeries(_ context.Context, symbol string, _ model.SeriesKind) (model.PriceSeries, error) {
	series, ok := s[symbol]
	if !ok {
		return model.PriceSeries{}, fmt.Errorf("HTTP 500: %w", fetcher.ErrDataUnavailable)
	}
	return series, nil
}

type scriptedJudge map[string]model.Verdict

func (j scriptedJudge) Judge(_ context.Context, req judge.Request) (model.Verdict, error) {
	v, ok := j[req.Symbol]
	if !ok {
		return model.Verdict{}, judge.ErrRetriesExhausted
	}
	return v, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

type memorySink struct {
	reports []report.RunReport
	err     error
}

func (m *memorySink) WriteReport(_ context.Context, r report.RunReport) error {
	m.reports = append(m.reports, r)
	return m.err
}

type fixedLocker struct {
	acquired bool
	released bool
}

func (l *fixedLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

func trend(n int, start, step float64) model.PriceSeries {
	s := model.PriceSeries{Close: make([]float64, n)}
	for i := range s.Close {
		s.Close[i] = start + step*float64(i)
	}
	return s
}

type fixture struct {
	svc      *Service
	notifier *recordingNotifier
	sink     *memorySink
	state    *alerting.DedupeState
}

func newFixture(t *testing.T, now time.Time) fixture {
	t.Helper()
	series := seriesByKind{
		"AAPL":            trend(250, 100, 1),
		"MSFT":            trend(250, 300, 0.2),
		"SPY":             trend(250, 400, 0.5),
		"BINANCE:ETHUSDT": trend(300, 3000, -1),
	}
	sources := map[model.Kind]fetcher.SeriesSource{model.KindEquity: series, model.KindCrypto: series}
	j := scriptedJudge{
		"AAPL":            {Decision: model.DecisionEscalate, Score: 88, Confidence: 0.8, Risk: model.RiskLow, Reason: "breakout"},
		"BINANCE:ETHUSDT": {Decision: model.DecisionHold, Score: 20, Risk: model.RiskHigh},
	}
	p := pipeline.New(pipeline.Config{Workers: 3, TaskTimeout: time.Second, AIGate: 0, MaxAI: 3, JudgeConcurrency: 2},
		pipeline.Sources{Series: sources}, j, nil, zerolog.Nop())

	state, err := alerting.LoadDedupeState(context.Background(), nil)
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	gate := alerting.NewGate(alerting.GateConfig{Threshold: 70, Cooldown: 6 * time.Hour}, state, notifier, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	sink := &memorySink{}

	svc := New(Deps{
		Universe: []model.Instrument{
			{Symbol: "AAPL", Kind: model.KindEquity},
			{Symbol: "GONE", Kind: model.KindEquity},
			{Symbol: "MSFT", Kind: model.KindEquity},
			{Symbol: "BINANCE:ETHUSDT", Kind: model.KindCrypto},
		},
		Pipeline:   p,
		Series:     sources,
		Benchmarks: pipeline.BenchmarkSymbols{Equity: "SPY", Crypto: "BINANCE:BTCUSDT"},
		Gate:       gate,
		Sink:       sink,
	}, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return fixture{svc: svc, notifier: notifier, sink: sink, state: state}
}

func TestRunScanEndToEnd(t *testing.T) {
	now := time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	r, err := f.svc.RunScan(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Items, 4)

	aapl, gone, msft, eth := r.Items[0], r.Items[1], r.Items[2], r.Items[3]

	assert.Equal(t, "delivered", aapl.Notification)
	require.NotNil(t, aapl.AI)
	assert.Equal(t, 88, aapl.AI.Score)
	assert.True(t, aapl.Features.RelStrength20.Valid())

	assert.Contains(t, gone.Error, "HTTP 500")
	assert.False(t, gone.Promoted)

	// promoted but no scripted verdict: judge error recorded, nothing sent
	assert.True(t, msft.Promoted)
	assert.Contains(t, msft.Error, "retries exhausted")
	assert.Equal(t, "skipped", msft.Notification)

	assert.Equal(t, "skipped", eth.Notification)
	assert.False(t, eth.Features.RelStrength20.Valid())

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "AAPL", f.notifier.sent[0].Symbol)
	last, ok := f.state.Last("AAPL")
	require.True(t, ok)
	assert.Equal(t, now, last)

	require.Len(t, f.sink.reports, 1)
	assert.Equal(t, r.RunID, f.sink.reports[0].RunID)
}

func TestRunScanSecondRunIsDeduped(t *testing.T) {
	now := time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	_, err := f.svc.RunScan(context.Background())
	require.NoError(t, err)
	r, err := f.svc.RunScan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "suppressed_dedupe", r.Items[0].Notification)
	assert.Len(t, f.notifier.sent, 1)
}

func TestRunScanSinkErrorStillReturnsReport(t *testing.T) {
	f := newFixture(t, time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC))
	f.sink.err = errors.New("disk full")

	r, err := f.svc.RunScan(context.Background())
	require.Error(t, err)
	assert.Len(t, r.Items, 4)
}

func TestScheduledScanRespectsLock(t *testing.T) {
	f := newFixture(t, time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC))
	locker := &fixedLocker{}
	f.svc.deps.Locker = locker
	f.svc.deps.LockKey = 42

	require.NoError(t, f.svc.ScheduledScan(context.Background(), time.Now()))
	assert.Empty(t, f.sink.reports)

	locker.acquired = true
	require.NoError(t, f.svc.ScheduledScan(context.Background(), time.Now()))
	assert.Len(t, f.sink.reports, 1)
	assert.True(t, locker.released)
}

func TestRunWithoutScheduler(t *testing.T) {
	f := newFixture(t, time.Now())
	assert.Error(t, f.svc.Run(context.Background()))
}
