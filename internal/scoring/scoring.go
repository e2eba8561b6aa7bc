// Package scoring maps a FeatureSet to the local pre-score used to decide
// which candidates are worth an external judgment.
package scoring

import "market-scanner/internal/model"

const (
	MinScore = 0
	MaxScore = 100
)

// Rule is one weighted condition of the pre-score.
type Rule struct {
	Name   string
	Weight int
	// Penalty applies when the condition is evaluable but false.
	Penalty int
	// Eval returns (holds, evaluable). Unevaluable rules contribute nothing.
	Eval func(f model.FeatureSet) (bool, bool)
}

// Contribution is the effect of one rule on a score.
type Contribution struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
}

// Rules is the fixed rule table of the pre-score.
var Rules = []Rule{
	{Name: "price_above_sma200", Weight: 20, Penalty: -10, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.Price.AboveOpt(f.SMA200), f.Price.Valid() && f.SMA200.Valid()
	}},
	{Name: "price_above_sma50", Weight: 15, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.Price.AboveOpt(f.SMA50), true
	}},
	{Name: "rsi_bullish_band", Weight: 10, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.RSI14.Above(50) && f.RSI14.Below(70), true
	}},
	{Name: "macd_above_signal", Weight: 10, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.MACDLine.AboveOpt(f.MACDSignal), true
	}},
	{Name: "near_high", Weight: 15, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.ProximityHigh.Above(-1.5), true
	}},
	{Name: "slope_positive", Weight: 5, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.Slope50.Above(0), true
	}},
	{Name: "volume_spike", Weight: 10, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.VolumeSpike.Above(1.4), true
	}},
	{Name: "outperforms_benchmark", Weight: 5, Eval: func(f model.FeatureSet) (bool, bool) {
		return f.RelStrength20.Above(0), true
	}},
}

// Score returns the clamped pre-score for f.
func Score(f model.FeatureSet) int {
	s, _ := Explain(f)
	return s
}

// Explain returns the clamped pre-score and the non-zero contributions that
// produced it, in rule order.
func Explain(f model.FeatureSet) (int, []Contribution) {
	total := 0
	var parts []Contribution
	for _, r := range Rules {
		holds, evaluable := r.Eval(f)
		if !evaluable {
			continue
		}
		points := r.Penalty
		if holds {
			points = r.Weight
		}
		if points == 0 {
			continue
		}
		total += points
		parts = append(parts, Contribution{Rule: r.Name, Points: points})
	}
	return clamp(total), parts
}

func clamp(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
