package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"market-scanner/internal/alerting"
	"market-scanner/internal/fetcher"
	"market-scanner/internal/metrics"
	"market-scanner/internal/model"
	"market-scanner/internal/pipeline"
	"market-scanner/internal/report"
	"market-scanner/internal/scheduler"
	"market-scanner/internal/storage"
)

// Deps are the collaborators of a Service. Sink, Metrics, Scheduler and
// Locker are optional.
type Deps struct {
	Universe   []model.Instrument
	Pipeline   *pipeline.Pipeline
	Series     map[model.Kind]fetcher.SeriesSource
	Benchmarks pipeline.BenchmarkSymbols
	Gate       *alerting.Gate
	Sink       report.Sink
	Metrics    *metrics.Recorder
	Scheduler  *scheduler.Scheduler
	Locker     storage.AdvisoryLocker
	LockKey    int64
}

// Service runs complete scans: scoring, escalation, gating and reporting.
type Service struct {
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs the scan service.
func New(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled scan loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ScheduledScan)
}

// ScheduledScan performs one scan unless another process holds the lock.
func (s *Service) ScheduledScan(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Info().Time("slot", slot).Msg("skip scan because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	_, err = s.RunScan(ctx)
	return err
}

// RunScan executes one full run and returns its report. The report is
// complete even when individual instruments fail; the error covers only
// persisting it.
func (s *Service) RunScan(ctx context.Context) (report.RunReport, error) {
	universe := s.deps.Universe
	asm := report.NewAssembler(s.now(), universe)
	log := s.logger.With().Str("run_id", asm.RunID()).Logger()
	log.Info().Int("instruments", len(universe)).Msg("scan started")

	bench := pipeline.LoadBenchmarks(ctx, s.deps.Series, s.deps.Benchmarks, log)

	p := s.deps.Pipeline
	cands := p.Stage1(ctx, universe, bench, asm)
	promoted := p.Promote(cands, asm)
	judged := p.Escalate(ctx, promoted, asm)

	sort.SliceStable(judged, func(i, j int) bool { return judged[i].Candidate.Index < judged[j].Candidate.Index })
	for _, j := range judged {
		outcome := alerting.OutcomeSkipped
		var deliveryErr error
		if s.deps.Gate != nil {
			d := s.deps.Gate.Evaluate(ctx, j.Candidate, j.Verdict)
			outcome, deliveryErr = d.Outcome, d.Err
		}
		s.deps.Metrics.Notification(string(outcome))
		asm.RecordNotification(j.Candidate.Index, string(outcome), deliveryErr)
	}

	finished := s.now()
	r := asm.Finish(finished)
	s.deps.Metrics.RunFinished(finished)

	sum := r.Summarize()
	log.Info().
		Int("total", sum.Total).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("promoted", sum.Promoted).
		Int("delivered", sum.Delivered).
		Dur("took", finished.Sub(r.StartedAt)).
		Msg("scan done")

	if s.deps.Sink != nil {
		if err := s.deps.Sink.WriteReport(ctx, r); err != nil {
			return r, fmt.Errorf("write report %s: %w", r.RunID, err)
		}
	}
	return r, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.deps.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.deps.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
