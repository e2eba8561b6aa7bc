package fetcher

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"market-scanner/internal/model"
)

const (
	defaultYahooChartURL   = "https://query1.finance.yahoo.com"
	defaultYahooSummaryURL = "https://query2.finance.yahoo.com"
)

// YahooOptions parameterise the Yahoo Finance adapters.
type YahooOptions struct {
	ChartURL   string
	SummaryURL string
	Timeout    time.Duration
	UserAgent  string
}

// Yahoo fetches equity bars and fundamentals from Yahoo Finance.
type Yahoo struct {
	opts   YahooOptions
	client *http.Client
	logger zerolog.Logger
}

// NewYahoo constructs a Yahoo Finance adapter.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	opts.ChartURL = strings.TrimRight(opts.ChartURL, "/")
	if opts.ChartURL == "" {
		opts.ChartURL = defaultYahooChartURL
	}
	opts.SummaryURL = strings.TrimRight(opts.SummaryURL, "/")
	if opts.SummaryURL == "" {
		opts.SummaryURL = defaultYahooSummaryURL
	}
	return &Yahoo{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "yahoo_fetcher").Logger(),
	}
}

// FetchSeries retrieves one year of daily bars, or one month of hourly bars
// for intraday requests.
func (y *Yahoo) FetchSeries(ctx context.Context, symbol string, kind model.SeriesKind) (model.PriceSeries, error) {
	rng, interval := "1y", "1d"
	if kind == model.SeriesIntraday {
		rng, interval = "1mo", "1h"
	}
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		y.opts.ChartURL, url.PathEscape(symbol), rng, interval)

	body, err := getBytes(ctx, y.client, endpoint, y.opts.UserAgent)
	if err != nil {
		return model.PriceSeries{}, err
	}
	series, err := parseYahooChart(body)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%s: %w", symbol, err)
	}
	y.logger.Debug().Str("symbol", symbol).Int("bars", series.Len()).Msg("chart fetched")
	return series, nil
}

func parseYahooChart(body []byte) (model.PriceSeries, error) {
	quote := gjson.GetBytes(body, "chart.result.0.indicators.quote.0")
	if !quote.Exists() {
		return model.PriceSeries{}, fmt.Errorf("%w: chart response has no quote block", ErrDataUnavailable)
	}
	closes := floatArray(quote.Get("close"))
	if len(closes) == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: chart response has no closes", ErrDataUnavailable)
	}
	series := model.PriceSeries{
		Close:  closes,
		High:   floatArray(quote.Get("high")),
		Low:    floatArray(quote.Get("low")),
		Volume: floatArray(quote.Get("volume")),
	}.Sanitize()
	if series.Len() == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: chart response has no finite closes", ErrDataUnavailable)
	}
	return series, nil
}

// floatArray maps a JSON array to floats, turning null and non-numeric
// entries into NaN so index alignment survives until Sanitize.
func floatArray(r gjson.Result) []float64 {
	if !r.IsArray() {
		return nil
	}
	arr := r.Array()
	out := make([]float64, len(arr))
	for i, v := range arr {
		switch v.Type {
		case gjson.Number:
			out[i] = v.Float()
		case gjson.String:
			out[i] = parseFloatOrNaN(v.Str)
		default:
			out[i] = math.NaN()
		}
	}
	return out
}

// FetchFundamentals retrieves a best-effort ratio snapshot.
func (y *Yahoo) FetchFundamentals(ctx context.Context, symbol string) (*model.Fundamentals, error) {
	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=defaultKeyStatistics,financialData",
		y.opts.SummaryURL, url.PathEscape(symbol))
	body, err := getBytes(ctx, y.client, endpoint, y.opts.UserAgent)
	if err != nil {
		return nil, err
	}
	return parseYahooSummary(body), nil
}

func parseYahooSummary(body []byte) *model.Fundamentals {
	result := gjson.GetBytes(body, "quoteSummary.result.0")
	if !result.Exists() {
		return nil
	}
	fin := result.Get("financialData")
	stats := result.Get("defaultKeyStatistics")

	f := model.Fundamentals{
		PE:            rawValue(fin, "trailingPE"),
		ROE:           rawValue(fin, "returnOnEquity"),
		GrossMargins:  rawValue(fin, "grossMargins"),
		ProfitMargins: rawValue(fin, "profitMargins"),
		RevenueGrowth: rawValue(fin, "revenueGrowth"),
	}
	if !f.PE.Valid() {
		f.PE = rawValue(stats, "trailingPE")
	}
	if f.Empty() {
		return nil
	}
	return &f
}

func rawValue(block gjson.Result, field string) model.Opt {
	v := block.Get(field + ".raw")
	if v.Type != gjson.Number {
		return model.None()
	}
	return model.Some(v.Float())
}

var (
	_ SeriesSource       = (*Yahoo)(nil)
	_ FundamentalsSource = (*Yahoo)(nil)
)
