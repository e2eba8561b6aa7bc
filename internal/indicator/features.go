package indicator

import "market-scanner/internal/model"

const (
	// Window is the number of most recent points every indicator looks at.
	Window = 220

	rsiPeriod        = 14
	atrPeriod        = 14
	bollingerPeriod  = 20
	bollingerWidth   = 2.0
	macdFast         = 12
	macdSlow         = 26
	macdSignal       = 9
	macdSignalWindow = 35
	volumePeriod     = 20
	slopePeriod      = 50
	// RSLookback is the relative strength lookback in periods.
	RSLookback = 20
)

// Compute derives the FeatureSet for a series. bench may be nil, in which
// case relative strength is unavailable.
func Compute(series model.PriceSeries, bench []float64) model.FeatureSet {
	s := series.Sanitize()
	recent := Tail(s.Close, Window)
	if len(recent) == 0 {
		return model.FeatureSet{}
	}

	price := recent[len(recent)-1]
	fs := model.FeatureSet{
		Price:   model.Some(price),
		SMA20:   SMA(recent, 20),
		SMA50:   SMA(recent, 50),
		SMA200:  SMA(recent, 200),
		RSI14:   RSI(recent, rsiPeriod),
		Slope50: Slope(recent, slopePeriod),
	}

	fs.MACDLine, fs.MACDSignal = MACD(recent, macdFast, macdSlow, macdSignal, macdSignalWindow)
	fs.BBUpper, fs.BBLower = Bollinger(recent, bollingerPeriod, bollingerWidth)

	lo, hi := MinMax(recent)
	fs.ProximityHigh = Proximity(price, hi)
	fs.ProximityLow = Proximity(price, lo)

	if s.HasRange() {
		// one extra bar so the window yields Window true ranges
		fs.ATR14 = ATR(Tail(s.High, Window+1), Tail(s.Low, Window+1), Tail(s.Close, Window+1), atrPeriod)
	}
	if s.HasVolume() {
		fs.VolumeSpike = VolumeSpike(s.Volume, volumePeriod)
	}
	if len(bench) > 0 {
		fs.RelStrength20 = RelativeStrength(recent, Tail(model.FiniteOnly(bench), Window), RSLookback)
	}
	return fs
}
