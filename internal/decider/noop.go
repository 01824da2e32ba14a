package decider

import (
	"context"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/types"
)

// Noop always decides HOLD. Used to run the bot as a pure monitor.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (d *Noop) Decide(ctx context.Context, epic string, latest types.Bar, inds types.Indicators, contextData map[string]any) (types.Decision, error) {
	logger.Debug(ctx, "Noop decider called - always returns HOLD", "epic", epic)
	return types.Decision{
		Action:     types.ActionHold,
		Reason:     "noop_decider",
		Confidence: 0.0,
	}, nil
}
