package engine

import (
	"capital-trading-bot/internal/sltp"
	"capital-trading-bot/internal/types"
)

// LevelSource yields absolute stop and profit levels for an entry.
type LevelSource interface {
	Levels(epic string, price float64, dir types.Direction) (stop, profit float64)
}

// stopManager turns per-epic percentages into order levels.
type stopManager struct {
	levels LevelSource
}

func newStopManager(levels LevelSource) *stopManager {
	return &stopManager{levels: levels}
}

// orderLevels returns the stop and profit levels for an order at price, nil
// when a level is not positive.
func (sm *stopManager) orderLevels(epic string, price float64, dir types.Direction) (stop, profit *float64) {
	var s, p float64
	if sm.levels != nil {
		s, p = sm.levels.Levels(epic, price, dir)
	} else {
		s, p = fallbackLevels(price, dir)
	}
	if s > 0 {
		stop = &s
	}
	if p > 0 {
		profit = &p
	}
	return stop, profit
}

func fallbackLevels(price float64, dir types.Direction) (stop, profit float64) {
	f := sltp.Fallback
	if dir == types.DirectionSell {
		return price * (1 + f.StopLossPercent), price * (1 - f.TakeProfitPercent)
	}
	return price * (1 - f.StopLossPercent), price * (1 + f.TakeProfitPercent)
}
