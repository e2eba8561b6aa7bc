package fetcher

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"market-scanner/internal/model"
)

const (
	defaultBinanceURL = "https://api.binance.com"
	binanceKlinesPath = "/api/v3/klines"
	binancePrefix     = "BINANCE:"
)

// BinanceOptions parameterise the Binance klines adapter.
type BinanceOptions struct {
	BaseURL string
	Limit   int
	Timeout time.Duration
}

// Binance fetches crypto bars from the Binance spot klines endpoint.
type Binance struct {
	opts   BinanceOptions
	client *http.Client
	logger zerolog.Logger
}

// NewBinance constructs a Binance adapter.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 300
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBinanceURL
	}
	return &Binance{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "binance_fetcher").Logger(),
	}
}

// PairSymbol strips the optional "BINANCE:" prefix used in universe files.
func PairSymbol(symbol string) string {
	return strings.TrimPrefix(strings.TrimSpace(symbol), binancePrefix)
}

// FetchSeries retrieves hourly (or daily) klines for a pair.
func (b *Binance) FetchSeries(ctx context.Context, symbol string, kind model.SeriesKind) (model.PriceSeries, error) {
	interval := "1h"
	if kind == model.SeriesDaily {
		interval = "1d"
	}
	q := url.Values{}
	q.Set("symbol", PairSymbol(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(b.opts.Limit))

	body, err := getBytes(ctx, b.client, b.opts.BaseURL+binanceKlinesPath+"?"+q.Encode(), "")
	if err != nil {
		return model.PriceSeries{}, err
	}
	series, err := parseKlines(body)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%s: %w", symbol, err)
	}
	b.logger.Debug().Str("symbol", symbol).Int("bars", series.Len()).Msg("klines fetched")
	return series, nil
}

// parseKlines reads [openTime, open, high, low, close, volume, ...] rows.
func parseKlines(body []byte) (model.PriceSeries, error) {
	rows := gjson.ParseBytes(body)
	if !rows.IsArray() {
		return model.PriceSeries{}, fmt.Errorf("%w: klines response is not an array", ErrDataUnavailable)
	}
	arr := rows.Array()
	s := model.PriceSeries{
		Close:  make([]float64, 0, len(arr)),
		High:   make([]float64, 0, len(arr)),
		Low:    make([]float64, 0, len(arr)),
		Volume: make([]float64, 0, len(arr)),
	}
	for _, row := range arr {
		s.High = append(s.High, parseFloatOrNaN(row.Get("2").String()))
		s.Low = append(s.Low, parseFloatOrNaN(row.Get("3").String()))
		s.Close = append(s.Close, parseFloatOrNaN(row.Get("4").String()))
		s.Volume = append(s.Volume, parseFloatOrNaN(row.Get("5").String()))
	}
	s = s.Sanitize()
	if s.Len() == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: no finite klines", ErrDataUnavailable)
	}
	return s, nil
}

func parseFloatOrNaN(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

var _ SeriesSource = (*Binance)(nil)
