package engine

import (
	"fmt"
	"math"

	"capital-trading-bot/internal/store"
	"capital-trading-bot/internal/ta"
	"capital-trading-bot/internal/types"
)

func indicatorParams(cfg *store.Config) ta.Params {
	return ta.Params{
		SMAWindows: cfg.Indicators.SMAWindows,
		RSIPeriod:  cfg.Indicators.RSIPeriod,
		MACDFast:   cfg.Indicators.MACDFast,
		MACDSlow:   cfg.Indicators.MACDSlow,
		MACDSignal: cfg.Indicators.MACDSignal,
	}
}

// indicatorFields flattens a snapshot for the decision log, dropping values
// that could not be computed.
func indicatorFields(inds types.Indicators) map[string]float64 {
	out := map[string]float64{}
	put := func(k string, v float64) {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	for w, v := range inds.SMA {
		put(fmt.Sprintf("SMA%d", w), v)
	}
	put("RSI", inds.RSI)
	put("MACD", inds.MACD)
	put("MACD_SIGNAL", inds.MACDSignal)
	return out
}

func directionFor(action string) (types.Direction, bool) {
	switch action {
	case types.ActionBuy:
		return types.DirectionBuy, true
	case types.ActionSell:
		return types.DirectionSell, true
	default:
		return "", false
	}
}

func dedupe(epics []string) []string {
	seen := make(map[string]bool, len(epics))
	out := make([]string, 0, len(epics))
	for _, e := range epics {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
