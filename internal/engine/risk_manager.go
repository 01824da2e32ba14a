package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/types"
)

// riskManager gates new orders on exposure limits.
type riskManager struct {
	maxOpen       int
	minConfidence float64
}

func newRiskManager(maxOpen int, minConfidence float64) *riskManager {
	return &riskManager{maxOpen: maxOpen, minConfidence: minConfidence}
}

// acceptDecision rejects decisions below the configured confidence floor.
func (rm *riskManager) acceptDecision(ctx context.Context, epic string, d types.Decision) bool {
	if d.Confidence >= rm.minConfidence {
		return true
	}
	logger.Info(ctx, "Decision below confidence floor",
		"epic", epic,
		"action", d.Action,
		"confidence", d.Confidence,
		"min_confidence", rm.minConfidence,
	)
	return false
}

// validSize rejects orders the sizing step could not fund.
func (rm *riskManager) validSize(ctx context.Context, epic string, size decimal.Decimal) bool {
	if size.IsPositive() {
		return true
	}
	logger.Blocked(ctx, epic, "TRADE_BLOCKED_SIZE", "no tradeable size", "size", size.String())
	return false
}
