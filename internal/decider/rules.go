package decider

import (
	"context"
	"fmt"
	"math"
	"strings"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/types"
)

const (
	// Sentiment bands of the news keyword score.
	StronglyNegative = 0.3
	StronglyPositive = 0.7
)

// RulesConfig holds the thresholds of the rules decider and exit rule.
type RulesConfig struct {
	RSIOversold   float64
	RSIOverbought float64
	MinConfidence float64
	// SMAWindow is the trend filter; 0 disables it.
	SMAWindow int

	ExitRSIHigh   float64
	ExitRSILow    float64
	ExitMACDRatio float64
}

func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		RSIOversold:   30,
		RSIOverbought: 70,
		MinConfidence: 0.6,
		SMAWindow:     20,
		ExitRSIHigh:   80,
		ExitRSILow:    20,
		ExitMACDRatio: 0.8,
	}
}

// Rules votes with RSI, MACD, trend and news sentiment. Each vote is worth a
// quarter of confidence; an action needs MinConfidence.
type Rules struct {
	cfg RulesConfig
}

func NewRules(cfg RulesConfig) *Rules {
	return &Rules{cfg: cfg}
}

func (r *Rules) Decide(ctx context.Context, epic string, latest types.Bar, inds types.Indicators, contextData map[string]any) (types.Decision, error) {
	if math.IsNaN(inds.RSI) || math.IsNaN(inds.MACD) || math.IsNaN(inds.MACDSignal) {
		return types.Decision{Action: types.ActionHold, Reason: "insufficient_history"}, nil
	}

	sentiment := 0.5
	if v, ok := contextData["sentiment"].(float64); ok {
		sentiment = v
	}

	var buy, sell []string
	if inds.RSI < r.cfg.RSIOversold {
		buy = append(buy, fmt.Sprintf("rsi %.1f oversold", inds.RSI))
	}
	if inds.RSI > r.cfg.RSIOverbought {
		sell = append(sell, fmt.Sprintf("rsi %.1f overbought", inds.RSI))
	}
	if inds.MACD > inds.MACDSignal {
		buy = append(buy, "macd above signal")
	} else if inds.MACD < inds.MACDSignal {
		sell = append(sell, "macd below signal")
	}
	if sma, ok := inds.SMA[r.cfg.SMAWindow]; ok && !math.IsNaN(sma) && sma > 0 {
		if latest.Close > sma {
			buy = append(buy, fmt.Sprintf("close above sma%d", r.cfg.SMAWindow))
		} else if latest.Close < sma {
			sell = append(sell, fmt.Sprintf("close below sma%d", r.cfg.SMAWindow))
		}
	}
	switch {
	case sentiment > StronglyPositive:
		buy = append(buy, fmt.Sprintf("news %.2f positive", sentiment))
	case sentiment < StronglyNegative:
		sell = append(sell, fmt.Sprintf("news %.2f negative", sentiment))
	}

	buyConf := float64(len(buy)) / 4
	sellConf := float64(len(sell)) / 4

	d := types.Decision{Action: types.ActionHold, Reason: "no_signal"}
	switch {
	case buyConf >= r.cfg.MinConfidence && buyConf > sellConf && sentiment >= StronglyNegative:
		d = types.Decision{Action: types.ActionBuy, Reason: strings.Join(buy, ", "), Confidence: buyConf}
	case sellConf >= r.cfg.MinConfidence && sellConf > buyConf && sentiment <= StronglyPositive:
		d = types.Decision{Action: types.ActionSell, Reason: strings.Join(sell, ", "), Confidence: sellConf}
	}

	logger.Debug(ctx, "Rules decision",
		"epic", epic,
		"action", d.Action,
		"buy_votes", len(buy),
		"sell_votes", len(sell),
		"sentiment", sentiment,
	)
	return d, nil
}

// ShouldClose takes profit on a winning position once momentum looks stretched.
func (r *Rules) ShouldClose(pos types.Position, inds types.Indicators) (bool, string) {
	if pos.Profit <= 0 || math.IsNaN(inds.RSI) {
		return false, ""
	}
	macdStretched := func(cmp func(a, b float64) bool) bool {
		if math.IsNaN(inds.MACD) || math.IsNaN(inds.MACDSignal) {
			return false
		}
		return cmp(inds.MACD, inds.MACDSignal*r.cfg.ExitMACDRatio)
	}

	switch pos.Direction {
	case types.DirectionBuy:
		if inds.RSI > r.cfg.ExitRSIHigh {
			return true, fmt.Sprintf("take profit: rsi %.1f", inds.RSI)
		}
		if macdStretched(func(a, b float64) bool { return a > b }) {
			return true, "take profit: macd above signal"
		}
	case types.DirectionSell:
		if inds.RSI < r.cfg.ExitRSILow {
			return true, fmt.Sprintf("take profit: rsi %.1f", inds.RSI)
		}
		if macdStretched(func(a, b float64) bool { return a < b }) {
			return true, "take profit: macd below signal"
		}
	}
	return false, ""
}
