package model

import "math"

// Kind tags an instrument as equity-like or crypto-like.
type Kind string

const (
	KindEquity Kind = "stock"
	KindCrypto Kind = "crypto"
)

// Valid reports whether k is one of the known instrument kinds.
func (k Kind) Valid() bool {
	return k == KindEquity || k == KindCrypto
}

// SeriesKind selects the bar granularity requested from a market data source.
type SeriesKind string

const (
	SeriesDaily    SeriesKind = "1d"
	SeriesIntraday SeriesKind = "1h"
)

// SeriesKindFor maps an instrument kind to the bar granularity it is scanned on.
func SeriesKindFor(k Kind) SeriesKind {
	if k == KindCrypto {
		return SeriesIntraday
	}
	return SeriesDaily
}

// Instrument is one entry of the scan universe.
type Instrument struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Kind   Kind   `json:"kind" yaml:"kind"`
}

// PriceSeries holds close prices ordered oldest to newest with optional
// parallel high/low/volume slices.
type PriceSeries struct {
	Close  []float64
	High   []float64
	Low    []float64
	Volume []float64
}

// Len returns the number of close prices.
func (p PriceSeries) Len() int { return len(p.Close) }

// HasRange reports whether aligned high and low slices are present.
func (p PriceSeries) HasRange() bool {
	return len(p.High) > 0 && len(p.High) == len(p.Close) && len(p.Low) == len(p.Close)
}

// HasVolume reports whether an aligned volume slice is present.
func (p PriceSeries) HasVolume() bool {
	return len(p.Volume) > 0 && len(p.Volume) == len(p.Close)
}

// Sanitize drops every bar that carries a non-finite value in any present
// field. Parallel slices whose length does not match Close are discarded.
func (p PriceSeries) Sanitize() PriceSeries {
	n := len(p.Close)
	withRange := len(p.High) == n && len(p.Low) == n && n > 0
	withVolume := len(p.Volume) == n && n > 0

	out := PriceSeries{Close: make([]float64, 0, n)}
	if withRange {
		out.High = make([]float64, 0, n)
		out.Low = make([]float64, 0, n)
	}
	if withVolume {
		out.Volume = make([]float64, 0, n)
	}

	for i := 0; i < n; i++ {
		if !finite(p.Close[i]) {
			continue
		}
		if withRange && (!finite(p.High[i]) || !finite(p.Low[i])) {
			continue
		}
		if withVolume && !finite(p.Volume[i]) {
			continue
		}
		out.Close = append(out.Close, p.Close[i])
		if withRange {
			out.High = append(out.High, p.High[i])
			out.Low = append(out.Low, p.Low[i])
		}
		if withVolume {
			out.Volume = append(out.Volume, p.Volume[i])
		}
	}
	return out
}

// FiniteOnly returns the finite values of v in order.
func FiniteOnly(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if finite(x) {
			out = append(out, x)
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
