package deciderobs

import (
	"context"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/trace"
	"capital-trading-bot/internal/types"
)

// observableDecider wraps a Decider with a span and structured logs
type observableDecider struct {
	decider interfaces.Decider
}

var _ interfaces.Decider = (*observableDecider)(nil)

func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{decider: decider}
}

func (od *observableDecider) Decide(
	ctx context.Context,
	epic string,
	latest types.Bar,
	indicators types.Indicators,
	contextData map[string]any,
) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "decider.Decide")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Requesting trading decision",
		"epic", epic,
		"price", latest.Close,
		"rsi", indicators.RSI,
		"macd", indicators.MACD,
	)

	decision, err := od.decider.Decide(ctx, epic, latest, indicators, contextData)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get trading decision", err,
			"epic", epic,
			"price", latest.Close,
		)
		return types.Decision{}, err
	}

	logger.InfoSkip(ctx, 1, "Trading decision received",
		"epic", epic,
		"action", decision.Action,
		"reason", decision.Reason,
		"confidence", decision.Confidence,
	)
	return decision, nil
}
