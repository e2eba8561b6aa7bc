package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-scanner/internal/alerting"
	"market-scanner/internal/config"
	"market-scanner/internal/fetcher"
	"market-scanner/internal/judge"
	"market-scanner/internal/metrics"
	"market-scanner/internal/model"
	"market-scanner/internal/pipeline"
	"market-scanner/internal/report"
	"market-scanner/internal/scheduler"
	"market-scanner/internal/service"
	"market-scanner/internal/storage"
	"market-scanner/internal/universe"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// RunOptions configure the long-running scheduler.
type RunOptions struct {
	MetricsAddr string
}

// ExportOptions select a report and the files to render it into.
type ExportOptions struct {
	RunID      string
	ReportPath string
	PNGPath    string
	CSVPath    string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	RunID string
	// Dedupe lists the last delivery per symbol instead of runs.
	Dedupe bool
}

// SimulateOptions describe a synthetic verdict pushed through the gate.
type SimulateOptions struct {
	Symbol   string
	Kind     model.Kind
	PreScore int
	Score    int
	Decision model.Decision
	Reason   string
	At       *time.Time
	// Persist records the delivery in the configured dedupe store.
	Persist bool
}

type sources struct {
	series       map[model.Kind]fetcher.SeriesSource
	fundamentals fetcher.FundamentalsSource
	news         fetcher.NewsSource
}

func (a *App) newSources() sources {
	src := a.Config.Sources
	yahoo := fetcher.NewYahoo(fetcher.YahooOptions{
		ChartURL:   src.Yahoo.ChartURL,
		SummaryURL: src.Yahoo.SummaryURL,
		Timeout:    src.RequestTimeout,
		UserAgent:  src.UserAgent,
	}, a.Logger)
	binance := fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL: src.Binance.BaseURL,
		Limit:   src.Binance.Limit,
		Timeout: src.RequestTimeout,
	}, a.Logger)
	news := fetcher.NewRSSNews(fetcher.NewsOptions{
		GoogleURL: src.News.GoogleURL,
		YahooURL:  src.News.YahooURL,
		Timeout:   src.RequestTimeout,
		UserAgent: src.UserAgent,
	}, a.Logger)

	breaker := func(name string, next fetcher.SeriesSource) fetcher.SeriesSource {
		return fetcher.NewBreakingSource(next, fetcher.BreakerOptions{
			Name:                name,
			ConsecutiveFailures: src.Breaker.ConsecutiveFailures,
			OpenTimeout:         src.Breaker.OpenTimeout,
			MaxRequests:         uint32(max(a.Config.Scan.Concurrency, 1)),
		})
	}

	return sources{
		series: map[model.Kind]fetcher.SeriesSource{
			model.KindEquity: breaker("yahoo", yahoo),
			model.KindCrypto: breaker("binance", binance),
		},
		fundamentals: yahoo,
		news:         news,
	}
}

func (a *App) newJudge() judge.Judge {
	cfg := a.Config.Judge
	return judge.NewClient(judge.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry: judge.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			Step:       cfg.DelayStep,
			MaxDelay:   cfg.MaxDelay,
		},
	}, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	cfg := a.Config.Alerting
	var out alerting.MultiNotifier
	for _, ch := range cfg.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case config.ChannelOneSignal:
			out = append(out, alerting.NewOneSignalNotifier(alerting.OneSignalOptions{
				AppID:     cfg.OneSignal.AppID,
				RESTKey:   cfg.OneSignal.RESTKey,
				APIURL:    cfg.OneSignal.APIURL,
				TargetURL: cfg.OneSignal.TargetURL,
				TagKey:    cfg.OneSignal.TagKey,
				Timeout:   10 * time.Second,
			}, a.Logger))
		case config.ChannelTelegram:
			out = append(out, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", ch)
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, func() {}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) openDedupeStore(ctx context.Context, pg *storage.Store) (alerting.DedupeStore, func(), error) {
	switch a.Config.Storage.Driver {
	case config.DriverPostgres:
		if pg == nil {
			return nil, nil, errors.New("storage.driver postgres requires database.dsn")
		}
		return pg, func() {}, nil
	case config.DriverRedis:
		client, err := storage.NewRedisClient(ctx, a.Config.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewRedisStore(client, a.Config.Storage.Redis.Key)
		return store, func() { _ = store.Close() }, nil
	default:
		return storage.NewFileStore(a.Config.Storage.StatePath, a.Logger), func() {}, nil
	}
}

func (a *App) newSink(pg *storage.Store) report.Sink {
	sinks := report.MultiSink{report.NewFileSink(a.Config.Report.Dir)}
	if a.Config.Report.Archive && pg != nil {
		sinks = append(sinks, pg)
	}
	return sinks
}

func (a *App) newGate(state *alerting.DedupeState, notifier alerting.Notifier) (*alerting.Gate, error) {
	cfg := a.Config.Alerting
	loc, err := cfg.Quiet.Location()
	if err != nil {
		return nil, fmt.Errorf("quiet hours zone: %w", err)
	}
	return alerting.NewGate(alerting.GateConfig{
		Threshold: cfg.ScoreThreshold,
		Quiet:     alerting.QuietHours{Location: loc, Start: cfg.Quiet.Start, End: cfg.Quiet.End},
		Cooldown:  cfg.DedupeCooldown,
	}, state, notifier, a.Logger), nil
}

// buildService wires every collaborator of a scan. The returned closer
// releases stores and connections.
func (a *App) buildService(ctx context.Context, rec *metrics.Recorder, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	instruments, err := universe.Load(a.Config.Universe.Path)
	if err != nil {
		return nil, nil, err
	}

	pg, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	dedupeStore, closeDedupe, err := a.openDedupeStore(ctx, pg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	closer := func() {
		closeDedupe()
		closeStore()
	}

	state, err := alerting.LoadDedupeState(ctx, dedupeStore)
	if err != nil {
		closer()
		return nil, nil, err
	}
	notifier, err := a.newNotifier()
	if err != nil {
		closer()
		return nil, nil, err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("no notification channel configured; escalations will be recorded as failed")
	}
	gate, err := a.newGate(state, notifier)
	if err != nil {
		closer()
		return nil, nil, err
	}

	src := a.newSources()
	scan := a.Config.Scan
	pipe := pipeline.New(pipeline.Config{
		Workers:          scan.Concurrency,
		TaskTimeout:      scan.TaskTimeout,
		MaxHeadlines:     scan.MaxHeadlines,
		AIGate:           scan.AIGate,
		MaxAI:            scan.MaxAI,
		JudgeConcurrency: a.Config.Judge.Concurrency,
	}, pipeline.Sources{
		Series:       src.series,
		Fundamentals: src.fundamentals,
		News:         src.news,
	}, a.newJudge(), rec, a.Logger)

	deps := service.Deps{
		Universe:   instruments,
		Pipeline:   pipe,
		Series:     src.series,
		Benchmarks: pipeline.BenchmarkSymbols{Equity: scan.EquityBenchmark, Crypto: scan.CryptoBenchmark},
		Gate:       gate,
		Sink:       a.newSink(pg),
		Metrics:    rec,
		Scheduler:  sched,
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}
	if pg != nil {
		deps.Locker = pg
	}
	return service.New(deps, a.Logger), closer, nil
}

// Scan performs a single run and prints its summary.
func (a *App) Scan(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.CheckSecrets(); err != nil {
		return err
	}

	svc, closer, err := a.buildService(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer closer()

	r, err := svc.RunScan(ctx)
	printSummary(r)
	return err
}

// Run executes scans on the configured schedule until interrupted.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.CheckSecrets(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg, a.Config.Metrics.Namespace)

	addr := opts.MetricsAddr
	if addr == "" {
		addr = a.Config.Metrics.Addr
	}
	if addr != "" {
		srv := a.startMetricsServer(addr, reg)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, closer, err := a.buildService(ctx, rec, sched)
	if err != nil {
		return err
	}
	defer closer()

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting scan scheduler")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scan scheduler stopped")
	return nil
}

func (a *App) startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.Logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
