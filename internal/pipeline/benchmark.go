package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"market-scanner/internal/fetcher"
	"market-scanner/internal/model"
)

// Benchmarks holds the close series relative strength is measured against.
// A nil series makes relative strength unavailable for that kind.
type Benchmarks struct {
	Equity []float64
	Crypto []float64
}

// For returns the benchmark for kind.
func (b Benchmarks) For(kind model.Kind) []float64 {
	if kind == model.KindCrypto {
		return b.Crypto
	}
	return b.Equity
}

// BenchmarkSymbols names the reference instrument per kind.
type BenchmarkSymbols struct {
	Equity string
	Crypto string
}

// LoadBenchmarks fetches both reference series once per run. Failures are
// logged and leave the series nil.
func LoadBenchmarks(ctx context.Context, sources map[model.Kind]fetcher.SeriesSource, symbols BenchmarkSymbols, logger zerolog.Logger) Benchmarks {
	load := func(kind model.Kind, symbol string) []float64 {
		src := sources[kind]
		if src == nil || symbol == "" {
			return nil
		}
		series, err := src.FetchSeries(ctx, symbol, model.SeriesKindFor(kind))
		if err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Msg("benchmark unavailable, relative strength disabled")
			return nil
		}
		closes := model.FiniteOnly(series.Close)
		if len(closes) == 0 {
			logger.Warn().Str("symbol", symbol).Msg("benchmark has no usable closes")
			return nil
		}
		return closes
	}
	return Benchmarks{
		Equity: load(model.KindEquity, symbols.Equity),
		Crypto: load(model.KindCrypto, symbols.Crypto),
	}
}
