// Package indicator implements the technical indicators used to build a
// FeatureSet. All functions are pure; insufficient input yields an
// unavailable value rather than an error.
package indicator

import (
	"math"

	"market-scanner/internal/model"
)

// rsZeroLossRatio stands in for gain/loss when there were no losses.
const rsZeroLossRatio = 1e9

// Mean returns the arithmetic mean of v, or 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// PopStdDev returns the population standard deviation of v.
func PopStdDev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := Mean(v)
	var acc float64
	for _, x := range v {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(v)))
}

// Tail returns the last n elements of v (all of v when shorter).
func Tail(v []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

// SMA is the simple moving average of the last n values.
func SMA(v []float64, n int) model.Opt {
	if n <= 0 || len(v) < n {
		return model.None()
	}
	return model.Some(Mean(v[len(v)-n:]))
}

// EMASeries returns the exponential moving average for every index of v,
// seeded with the first element.
func EMASeries(v []float64, n int) []float64 {
	if len(v) == 0 || n <= 0 {
		return nil
	}
	k := 2 / float64(n+1)
	out := make([]float64, len(v))
	e := v[0]
	out[0] = e
	for i := 1; i < len(v); i++ {
		e = v[i]*k + e*(1-k)
		out[i] = e
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index over p periods.
func RSI(v []float64, p int) model.Opt {
	if p <= 0 || len(v) < p+1 {
		return model.None()
	}
	gains := make([]float64, len(v)-1)
	losses := make([]float64, len(v)-1)
	for i := 1; i < len(v); i++ {
		d := v[i] - v[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}
	avgGain := Mean(gains[:p])
	avgLoss := Mean(losses[:p])
	for i := p; i < len(gains); i++ {
		avgGain = (avgGain*float64(p-1) + gains[i]) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + losses[i]) / float64(p)
	}
	rs := rsZeroLossRatio
	if avgLoss != 0 {
		rs = avgGain / avgLoss
	}
	return model.Some(100 - 100/(1+rs))
}

// ATR computes the Wilder-smoothed average true range over p periods. The
// three slices must be index aligned.
func ATR(high, low, closes []float64, p int) model.Opt {
	n := len(closes)
	if p <= 0 || n < p+1 || len(high) != n || len(low) != n {
		return model.None()
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	a := Mean(trs[:p])
	for i := p; i < len(trs); i++ {
		a = (a*float64(p-1) + trs[i]) / float64(p)
	}
	return model.Some(a)
}

// Slope is the least-squares slope of the last n values against 1..n.
func Slope(v []float64, n int) model.Opt {
	a := Tail(v, n)
	if len(a) < 2 {
		return model.None()
	}
	ym := Mean(a)
	xm := float64(len(a)+1) / 2
	var num, den float64
	for i, y := range a {
		dx := float64(i+1) - xm
		num += dx * (y - ym)
		den += dx * dx
	}
	if den == 0 {
		return model.None()
	}
	return model.Some(num / den)
}

// Bollinger returns the upper and lower bands: SMA(n) ± k population
// standard deviations.
func Bollinger(v []float64, n int, k float64) (upper, lower model.Opt) {
	if n <= 0 || len(v) < n {
		return model.None(), model.None()
	}
	w := v[len(v)-n:]
	m := Mean(w)
	sd := PopStdDev(w)
	return model.Some(m + k*sd), model.Some(m - k*sd)
}

// MACD returns the MACD line (EMA fast − EMA slow) and its signal, the EMA
// over the last signalWindow MACD values.
func MACD(v []float64, fast, slow, signal, signalWindow int) (line, sig model.Opt) {
	if len(v) < slow {
		return model.None(), model.None()
	}
	ef := EMASeries(v, fast)
	es := EMASeries(v, slow)
	macd := make([]float64, len(v))
	for i := range v {
		macd[i] = ef[i] - es[i]
	}
	signals := EMASeries(Tail(macd, signalWindow), signal)
	return model.Some(macd[len(macd)-1]), model.Some(signals[len(signals)-1])
}

// ReturnRatio returns last / v[len-1-lookback].
func ReturnRatio(v []float64, lookback int) model.Opt {
	if lookback <= 0 || len(v) < lookback+1 {
		return model.None()
	}
	base := v[len(v)-1-lookback]
	if base == 0 {
		return model.None()
	}
	return model.Some(v[len(v)-1] / base)
}

// RelativeStrength is the asset's return ratio over lookback periods minus
// the benchmark's ratio over the same number of periods.
func RelativeStrength(asset, bench []float64, lookback int) model.Opt {
	a, okA := ReturnRatio(asset, lookback).Get()
	b, okB := ReturnRatio(bench, lookback).Get()
	if !okA || !okB {
		return model.None()
	}
	return model.Some(a - b)
}

// Proximity is the percentage distance of price from extreme.
func Proximity(price, extreme float64) model.Opt {
	if extreme == 0 {
		return model.None()
	}
	return model.Some(100 * (price - extreme) / extreme)
}

// VolumeSpike is the last volume divided by the mean of the last n volumes.
// A zero last volume is unavailable.
func VolumeSpike(volumes []float64, n int) model.Opt {
	if n <= 0 || len(volumes) < n {
		return model.None()
	}
	last := volumes[len(volumes)-1]
	avg := Mean(volumes[len(volumes)-n:])
	if avg == 0 || last == 0 {
		return model.None()
	}
	return model.Some(last / avg)
}

// MinMax returns the smallest and largest values of v.
func MinMax(v []float64) (lo, hi float64) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi = v[0], v[0]
	for _, x := range v[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}
