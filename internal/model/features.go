package model

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Opt is an indicator value that may be unavailable. The zero value is
// unavailable, which keeps "missing" distinct from a computed zero.
type Opt struct {
	value float64
	ok    bool
}

// Some wraps a computed value. Non-finite inputs collapse to None.
func Some(v float64) Opt {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Opt{}
	}
	return Opt{value: v, ok: true}
}

// None returns an unavailable value.
func None() Opt { return Opt{} }

// Get returns the value and whether it is available.
func (o Opt) Get() (float64, bool) { return o.value, o.ok }

// Valid reports whether the value is available.
func (o Opt) Valid() bool { return o.ok }

// Float returns the value, or 0 when unavailable. Callers that branch on the
// value must check Valid first.
func (o Opt) Float() float64 { return o.value }

// Above reports o > x; unavailable is never above anything.
func (o Opt) Above(x float64) bool { return o.ok && o.value > x }

// Below reports o < x; unavailable is never below anything.
func (o Opt) Below(x float64) bool { return o.ok && o.value < x }

// AboveOpt reports o > other when both are available.
func (o Opt) AboveOpt(other Opt) bool { return o.ok && other.ok && o.value > other.value }

// Round returns the value rounded to places decimals.
func (o Opt) Round(places int32) Opt {
	if !o.ok {
		return o
	}
	f, _ := decimal.NewFromFloat(o.value).Round(places).Float64()
	return Opt{value: f, ok: true}
}

// MarshalJSON encodes unavailable values as null.
func (o Opt) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return []byte(decimal.NewFromFloat(o.value).Round(6).String()), nil
}

// UnmarshalJSON decodes null as unavailable.
func (o *Opt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Opt{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// FeatureSet is the fixed set of indicators derived for one instrument.
type FeatureSet struct {
	Price         Opt `json:"price"`
	SMA20         Opt `json:"sma20"`
	SMA50         Opt `json:"sma50"`
	SMA200        Opt `json:"sma200"`
	MACDLine      Opt `json:"macdLine"`
	MACDSignal    Opt `json:"macdSignal"`
	RSI14         Opt `json:"rsi14"`
	ATR14         Opt `json:"atr14"`
	BBUpper       Opt `json:"bbUpper"`
	BBLower       Opt `json:"bbLower"`
	ProximityHigh Opt `json:"proximityHi"`
	ProximityLow  Opt `json:"proximityLo"`
	VolumeSpike   Opt `json:"volSpike"`
	Slope50       Opt `json:"slope50"`
	RelStrength20 Opt `json:"rs20"`
}

// Rounded returns a copy with every value rounded for compact payloads.
func (f FeatureSet) Rounded(places int32) FeatureSet {
	return FeatureSet{
		Price:         f.Price.Round(places),
		SMA20:         f.SMA20.Round(places),
		SMA50:         f.SMA50.Round(places),
		SMA200:        f.SMA200.Round(places),
		MACDLine:      f.MACDLine.Round(places),
		MACDSignal:    f.MACDSignal.Round(places),
		RSI14:         f.RSI14.Round(places),
		ATR14:         f.ATR14.Round(places),
		BBUpper:       f.BBUpper.Round(places),
		BBLower:       f.BBLower.Round(places),
		ProximityHigh: f.ProximityHigh.Round(places),
		ProximityLow:  f.ProximityLow.Round(places),
		VolumeSpike:   f.VolumeSpike.Round(places),
		Slope50:       f.Slope50.Round(places),
		RelStrength20: f.RelStrength20.Round(places),
	}
}
