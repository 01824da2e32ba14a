package ta

import (
	"math"

	"github.com/markcheno/go-talib"

	"capital-trading-bot/internal/types"
)

// SMA returns the simple moving average of the last n closes, NaN when there is not enough data.
func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	return last(talib.Sma(closes, n))
}

// RSI returns Wilder's RSI over period, NaN when there is not enough data.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	return last(talib.Rsi(closes, period))
}

// MACD returns the latest MACD line and signal line values.
func MACD(closes []float64, fast, slow, signal int) (macd, sig float64) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return math.NaN(), math.NaN()
	}
	m, s, _ := talib.Macd(closes, fast, slow, signal)
	return last(m), last(s)
}

// Params selects the indicator periods.
type Params struct {
	SMAWindows []int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

// Snapshot computes every configured indicator over the bar closes.
func Snapshot(bars []types.Bar, p Params) types.Indicators {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	inds := types.Indicators{SMA: make(map[int]float64, len(p.SMAWindows))}
	for _, w := range p.SMAWindows {
		inds.SMA[w] = SMA(closes, w)
	}
	inds.RSI = RSI(closes, p.RSIPeriod)
	inds.MACD, inds.MACDSignal = MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	return inds
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	v := series[len(series)-1]
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
