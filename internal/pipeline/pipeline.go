// Package pipeline runs the two scan stages: cheap local scoring over the
// whole universe, then budgeted judgment of the best candidates.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-scanner/internal/executor"
	"market-scanner/internal/fetcher"
	"market-scanner/internal/indicator"
	"market-scanner/internal/judge"
	"market-scanner/internal/metrics"
	"market-scanner/internal/model"
	"market-scanner/internal/report"
	"market-scanner/internal/scoring"
)

// Sources are the per-run data collaborators. Fundamentals and News are
// consulted for equities only and may be nil.
type Sources struct {
	Series       map[model.Kind]fetcher.SeriesSource
	Fundamentals fetcher.FundamentalsSource
	News         fetcher.NewsSource
}

// Config bounds both stages.
type Config struct {
	Workers          int
	TaskTimeout      time.Duration
	MaxHeadlines     int
	AIGate           int
	MaxAI            int
	JudgeConcurrency int
}

// Judged is the stage-two outcome for one promoted candidate. Exactly one
// of Verdict and Err is set.
type Judged struct {
	Candidate model.Candidate
	Verdict   *model.Verdict
	Err       error
}

// Pipeline evaluates instruments and escalates the best of them.
type Pipeline struct {
	cfg     Config
	sources Sources
	judge   judge.Judge
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// New constructs a Pipeline. rec may be nil.
func New(cfg Config, sources Sources, j judge.Judge, rec *metrics.Recorder, logger zerolog.Logger) *Pipeline {
	if cfg.JudgeConcurrency <= 0 {
		cfg.JudgeConcurrency = 1
	}
	return &Pipeline{
		cfg:     cfg,
		sources: sources,
		judge:   j,
		metrics: rec,
		logger:  logger.With().Str("component", "pipeline").Logger(),
	}
}

type scored struct {
	candidate model.Candidate
	breakdown []scoring.Contribution
}

// Stage1 evaluates every instrument on the worker pool and records each
// outcome in asm as it settles. It returns the successful candidates in
// universe order.
func (p *Pipeline) Stage1(ctx context.Context, universe []model.Instrument, bench Benchmarks, asm *report.Assembler) []model.Candidate {
	started := time.Now()
	tasks := make([]executor.Task[scored], len(universe))
	for i, inst := range universe {
		i, inst := i, inst
		tasks[i] = executor.Task[scored]{
			Key: inst.Symbol,
			Run: func(ctx context.Context) (scored, error) {
				return p.evaluate(ctx, i, inst, bench.For(inst.Kind))
			},
		}
	}

	onSettle := func(res executor.Result[scored]) {
		inst := universe[res.Index]
		if res.Failed() {
			p.metrics.Instrument(string(inst.Kind), false)
			p.logger.Warn().Err(res.Err).Str("symbol", inst.Symbol).Str("kind", string(inst.Kind)).Msg("instrument failed")
			asm.RecordFailure(res.Index, res.Err, res.Duration)
			return
		}
		p.metrics.Instrument(string(inst.Kind), true)
		c := res.Value.candidate
		p.logger.Debug().Str("symbol", c.Symbol).Int("score", c.Score).Dur("took", res.Duration).Msg("instrument scored")
		asm.RecordCandidate(c, res.Value.breakdown, res.Duration)
	}

	results := executor.Run(ctx, tasks, executor.Options{
		Workers:     p.cfg.Workers,
		TaskTimeout: p.cfg.TaskTimeout,
		Logger:      p.logger,
	}, onSettle)

	byIndex := make([]*model.Candidate, len(universe))
	for _, res := range results {
		if !res.Failed() {
			c := res.Value.candidate
			byIndex[res.Index] = &c
		}
	}
	out := make([]model.Candidate, 0, len(universe))
	for _, c := range byIndex {
		if c != nil {
			out = append(out, *c)
		}
	}
	p.metrics.Stage("stage1", time.Since(started))
	return out
}

func (p *Pipeline) evaluate(ctx context.Context, index int, inst model.Instrument, bench []float64) (scored, error) {
	src := p.sources.Series[inst.Kind]
	if src == nil {
		return scored{}, fmt.Errorf("no series source for kind %q", inst.Kind)
	}
	series, err := src.FetchSeries(ctx, inst.Symbol, model.SeriesKindFor(inst.Kind))
	if err != nil {
		return scored{}, fmt.Errorf("fetch series %s: %w", inst.Symbol, err)
	}
	features := indicator.Compute(series, bench)
	if !features.Price.Valid() {
		return scored{}, fmt.Errorf("%s: %w: no usable closes", inst.Symbol, fetcher.ErrDataUnavailable)
	}

	c := model.Candidate{
		Index:    index,
		Symbol:   inst.Symbol,
		Kind:     inst.Kind,
		Features: features,
	}
	if inst.Kind == model.KindEquity {
		c.Fundamentals = p.fundamentals(ctx, inst.Symbol)
		c.Headlines = p.headlines(ctx, inst.Symbol+" stock")
	}

	score, breakdown := scoring.Explain(features)
	c.Score = score
	return scored{candidate: c, breakdown: breakdown}, nil
}

func (p *Pipeline) fundamentals(ctx context.Context, symbol string) *model.Fundamentals {
	if p.sources.Fundamentals == nil {
		return nil
	}
	f, err := p.sources.Fundamentals.FetchFundamentals(ctx, symbol)
	if err != nil {
		p.logger.Debug().Err(err).Str("symbol", symbol).Msg("fundamentals unavailable")
		return nil
	}
	return f
}

func (p *Pipeline) headlines(ctx context.Context, query string) []string {
	if p.sources.News == nil || p.cfg.MaxHeadlines <= 0 {
		return nil
	}
	items, err := p.sources.News.Headlines(ctx, query, p.cfg.MaxHeadlines)
	if err != nil {
		p.logger.Debug().Err(err).Str("query", query).Msg("headlines unavailable")
		return nil
	}
	return items
}

// Promote selects the stage-two candidates and marks them in asm.
func (p *Pipeline) Promote(cands []model.Candidate, asm *report.Assembler) []model.Candidate {
	promoted := Select(cands, p.cfg.AIGate, p.cfg.MaxAI)
	for _, c := range promoted {
		asm.MarkPromoted(c.Index)
	}
	p.logger.Info().Int("eligible", len(cands)).Int("promoted", len(promoted)).
		Int("gate", p.cfg.AIGate).Int("max", p.cfg.MaxAI).Msg("stage two selection")
	return promoted
}

// Escalate judges the promoted candidates with bounded concurrency and
// records each verdict or terminal error in asm. The result keeps the order
// of promoted.
func (p *Pipeline) Escalate(ctx context.Context, promoted []model.Candidate, asm *report.Assembler) []Judged {
	started := time.Now()
	out := make([]Judged, len(promoted))

	var g errgroup.Group
	g.SetLimit(p.cfg.JudgeConcurrency)
	for i, c := range promoted {
		i, c := i, c
		g.Go(func() error {
			out[i] = p.judgeOne(ctx, c)
			if out[i].Err != nil {
				asm.RecordJudgeError(c.Index, out[i].Err)
			} else {
				asm.RecordVerdict(c.Index, *out[i].Verdict)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.metrics.Stage("stage2", time.Since(started))
	return out
}

func (p *Pipeline) judgeOne(ctx context.Context, c model.Candidate) (res Judged) {
	res.Candidate = c
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("symbol", c.Symbol).Bytes("stack", debug.Stack()).Msg("judge panicked")
			res.Verdict = nil
			res.Err = fmt.Errorf("judge panic: %v", r)
			p.metrics.Judgment("error")
		}
	}()

	if p.judge == nil {
		res.Err = fmt.Errorf("judge not configured")
		p.metrics.Judgment("error")
		return res
	}

	v, err := p.judge.Judge(ctx, judge.RequestFor(c))
	if err != nil {
		p.logger.Error().Err(err).Str("symbol", c.Symbol).Msg("judgment failed")
		res.Err = err
		p.metrics.Judgment("error")
		return res
	}

	outcome := string(v.Decision)
	if v.Degraded {
		outcome = "degraded"
	}
	p.metrics.Judgment(outcome)
	p.logger.Info().Str("symbol", c.Symbol).Int("pre_score", c.Score).
		Str("decision", string(v.Decision)).Int("score", v.Score).Str("risk", string(v.Risk)).
		Msg("verdict received")
	res.Verdict = &v
	return res
}
