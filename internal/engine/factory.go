package engine

import (
	"capital-trading-bot/internal/decider"
	"capital-trading-bot/internal/decider/deciderobs"
	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/store"
)

func New(cfg *store.Config, deps Deps) *Engine {
	return newEngine(cfg, deps)
}

// NewDecider builds the configured decider, wrapped for observability, and
// the exit rule used for open positions. The exit rule always follows the
// configured exit thresholds so a noop decider still manages positions.
func NewDecider(cfg *store.Config) (interfaces.Decider, interfaces.ExitRule) {
	rc := decider.RulesConfig{
		RSIOversold:   cfg.Decider.RSIOversold,
		RSIOverbought: cfg.Decider.RSIOverbought,
		MinConfidence: cfg.Decider.MinConfidence,
		ExitRSIHigh:   cfg.Decider.ExitRSIHigh,
		ExitRSILow:    cfg.Decider.ExitRSILow,
		ExitMACDRatio: cfg.Decider.ExitMACDRatio,
	}
	if len(cfg.Indicators.SMAWindows) > 0 {
		rc.SMAWindow = cfg.Indicators.SMAWindows[0]
	}
	rules := decider.NewRules(rc)

	var d interfaces.Decider = rules
	if cfg.Decider.Kind == "noop" {
		d = decider.NewNoop()
	}
	return deciderobs.Wrap(d), rules
}
