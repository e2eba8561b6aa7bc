package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-scanner/internal/fetcher"
	"market-scanner/internal/judge"
	"market-scanner/internal/model"
	"market-scanner/internal/report"
)

type fakeSeries struct {
	mu     sync.Mutex
	series map[string]model.PriceSeries
	kinds  map[string]model.SeriesKind
}

func (f *fakeSeries) FetchSeries(_ context.Context, symbol string, kind model.SeriesKind) (model.PriceSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kinds == nil {
		f.kinds = map[string]model.SeriesKind{}
	}
	f.kinds[symbol] = kind
	s, ok := f.series[symbol]
	if !ok {
		return model.PriceSeries{}, &fetcher.HTTPError{Status: 404, URL: "/chart/" + symbol}
	}
	return s, nil
}

type fakeFundamentals struct{}

func (fakeFundamentals) FetchFundamentals(context.Context, string) (*model.Fundamentals, error) {
	return &model.Fundamentals{PE: model.Some(25)}, nil
}

type fakeNews struct{ queries atomic.Int32 }

func (f *fakeNews) Headlines(_ context.Context, query string, max int) ([]string, error) {
	f.queries.Add(1)
	return []string{query + " headline — https://example.com"}, nil
}

type fakeJudge struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeJudge) Judge(_ context.Context, req judge.Request) (model.Verdict, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.calls = append(f.calls, req.Symbol)
	err := f.fail[req.Symbol]
	f.mu.Unlock()
	if err != nil {
		return model.Verdict{}, err
	}
	return model.Verdict{Decision: model.DecisionEscalate, Score: req.PreScore, Risk: model.RiskLow}, nil
}

func rising(n int, start, step float64) model.PriceSeries {
	s := model.PriceSeries{Close: make([]float64, n), High: make([]float64, n), Low: make([]float64, n), Volume: make([]float64, n)}
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		s.Close[i] = c
		s.High[i] = c + 1
		s.Low[i] = c - 1
		s.Volume[i] = 1000
	}
	return s
}

func cands(scores ...int) []model.Candidate {
	out := make([]model.Candidate, len(scores))
	for i, s := range scores {
		out[i] = model.Candidate{Index: i, Symbol: fmt.Sprintf("S%d", i), Score: s}
	}
	return out
}

func TestSelectGateAndBudget(t *testing.T) {
	got := Select(cands(10, 90, 57, 58, 85, 70, 40), 58, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []int{90, 85, 70}, []int{got[0].Score, got[1].Score, got[2].Score})

	assert.Empty(t, Select(cands(90, 80), 58, 0))
	assert.Empty(t, Select(cands(10, 20), 58, 3))
}

func TestSelectStableOnTies(t *testing.T) {
	got := Select(cands(60, 75, 60, 75), 58, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"S1", "S3", "S0"}, []string{got[0].Symbol, got[1].Symbol, got[2].Symbol})
}

func newPipeline(series *fakeSeries, j judge.Judge, news *fakeNews) *Pipeline {
	return New(Config{Workers: 2, TaskTimeout: time.Second, MaxHeadlines: 4, AIGate: 0, MaxAI: 3, JudgeConcurrency: 2},
		Sources{
			Series:       map[model.Kind]fetcher.SeriesSource{model.KindEquity: series, model.KindCrypto: series},
			Fundamentals: fakeFundamentals{},
			News:         news,
		}, j, nil, zerolog.Nop())
}

func TestStage1IsolatesFailures(t *testing.T) {
	series := &fakeSeries{series: map[string]model.PriceSeries{
		"AAPL":            rising(250, 100, 1),
		"MSFT":            rising(250, 200, 0.5),
		"NVDA":            rising(30, 50, 1),
		"BINANCE:BTCUSDT": rising(300, 40000, 10),
	}}
	universe := []model.Instrument{
		{Symbol: "AAPL", Kind: model.KindEquity},
		{Symbol: "MSFT", Kind: model.KindEquity},
		{Symbol: "MISSING", Kind: model.KindEquity},
		{Symbol: "NVDA", Kind: model.KindEquity},
		{Symbol: "BINANCE:BTCUSDT", Kind: model.KindCrypto},
	}
	news := &fakeNews{}
	p := newPipeline(series, nil, news)
	asm := report.NewAssembler(time.Now(), universe)

	got := p.Stage1(context.Background(), universe, Benchmarks{}, asm)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA", "BINANCE:BTCUSDT"},
		[]string{got[0].Symbol, got[1].Symbol, got[2].Symbol, got[3].Symbol})
	assert.Equal(t, 4, got[3].Index)

	r := asm.Finish(time.Now())
	assert.Contains(t, r.Items[2].Error, "HTTP 404")
	assert.False(t, r.Items[2].Succeeded())
	for _, i := range []int{0, 1, 3, 4} {
		assert.True(t, r.Items[i].Succeeded(), r.Items[i].Symbol)
	}

	// equities get fundamentals and headlines, crypto does not
	assert.NotNil(t, got[0].Fundamentals)
	assert.Len(t, got[0].Headlines, 1)
	assert.Nil(t, got[3].Fundamentals)
	assert.Empty(t, got[3].Headlines)
	assert.Equal(t, int32(3), news.queries.Load())

	assert.Equal(t, model.SeriesDaily, series.kinds["AAPL"])
	assert.Equal(t, model.SeriesIntraday, series.kinds["BINANCE:BTCUSDT"])

	// short history degrades rather than fails
	assert.False(t, got[2].Features.SMA200.Valid())
	assert.False(t, got[2].Features.RelStrength20.Valid())
}

func TestStage1UnknownSymbolsDoNotTripBreaker(t *testing.T) {
	series := &fakeSeries{series: map[string]model.PriceSeries{"AAPL": rising(250, 100, 1)}}
	breaker := fetcher.NewBreakingSource(series, fetcher.BreakerOptions{Name: "yahoo", ConsecutiveFailures: 5, OpenTimeout: time.Minute})
	p := New(Config{Workers: 1, TaskTimeout: time.Second},
		Sources{Series: map[model.Kind]fetcher.SeriesSource{model.KindEquity: breaker}}, nil, nil, zerolog.Nop())

	var universe []model.Instrument
	for i := 1; i <= 5; i++ {
		universe = append(universe, model.Instrument{Symbol: fmt.Sprintf("BAD%d", i), Kind: model.KindEquity})
	}
	universe = append(universe, model.Instrument{Symbol: "AAPL", Kind: model.KindEquity})
	asm := report.NewAssembler(time.Now(), universe)

	got := p.Stage1(context.Background(), universe, Benchmarks{}, asm)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, "closed", breaker.State())
}

func TestStage1EmptySeriesFails(t *testing.T) {
	series := &fakeSeries{series: map[string]model.PriceSeries{"EMPTY": {}}}
	universe := []model.Instrument{{Symbol: "EMPTY", Kind: model.KindEquity}}
	p := newPipeline(series, nil, &fakeNews{})
	asm := report.NewAssembler(time.Now(), universe)

	assert.Empty(t, p.Stage1(context.Background(), universe, Benchmarks{}, asm))
	assert.NotEmpty(t, asm.Finish(time.Now()).Items[0].Error)
}

func TestEscalateRecordsVerdictsAndErrors(t *testing.T) {
	universe := []model.Instrument{
		{Symbol: "A", Kind: model.KindEquity},
		{Symbol: "B", Kind: model.KindEquity},
		{Symbol: "C", Kind: model.KindEquity},
	}
	j := &fakeJudge{fail: map[string]error{"B": judge.ErrRetriesExhausted}}
	p := newPipeline(&fakeSeries{}, j, &fakeNews{})
	asm := report.NewAssembler(time.Now(), universe)

	all := []model.Candidate{
		{Index: 0, Symbol: "A", Kind: model.KindEquity, Score: 80},
		{Index: 1, Symbol: "B", Kind: model.KindEquity, Score: 75},
		{Index: 2, Symbol: "C", Kind: model.KindEquity, Score: 90},
	}
	for _, c := range all {
		asm.RecordCandidate(c, nil, 0)
	}
	promoted := p.Promote(all, asm)
	require.Len(t, promoted, 3)
	assert.Equal(t, "C", promoted[0].Symbol)

	judged := p.Escalate(context.Background(), promoted, asm)
	require.Len(t, judged, 3)
	assert.Equal(t, "C", judged[0].Candidate.Symbol)
	assert.NotNil(t, judged[0].Verdict)
	assert.True(t, errors.Is(judged[2].Err, judge.ErrRetriesExhausted))
	assert.Nil(t, judged[2].Verdict)
	assert.LessOrEqual(t, j.peak.Load(), int32(2))
	assert.Len(t, j.calls, 3)

	r := asm.Finish(time.Now())
	assert.True(t, r.Items[0].Promoted)
	assert.NotNil(t, r.Items[0].AI)
	assert.Nil(t, r.Items[1].AI)
	assert.Contains(t, r.Items[1].Error, "retries exhausted")
}

func TestEscalateWithoutPromotionsMakesNoCalls(t *testing.T) {
	j := &fakeJudge{}
	p := newPipeline(&fakeSeries{}, j, &fakeNews{})
	asm := report.NewAssembler(time.Now(), nil)
	assert.Empty(t, p.Escalate(context.Background(), nil, asm))
	assert.Empty(t, j.calls)
}

func TestLoadBenchmarks(t *testing.T) {
	series := &fakeSeries{series: map[string]model.PriceSeries{"SPY": rising(30, 400, 1)}}
	sources := map[model.Kind]fetcher.SeriesSource{model.KindEquity: series, model.KindCrypto: series}

	b := LoadBenchmarks(context.Background(), sources, BenchmarkSymbols{Equity: "SPY", Crypto: "BINANCE:BTCUSDT"}, zerolog.Nop())
	assert.Len(t, b.For(model.KindEquity), 30)
	assert.Nil(t, b.For(model.KindCrypto))
}
