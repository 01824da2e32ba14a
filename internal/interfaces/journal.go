package interfaces

import (
	"context"
	"time"

	"capital-trading-bot/internal/types"
)

// Journal persists what the bot did so it survives restarts.
type Journal interface {
	RecordTrade(ctx context.Context, rec types.TradeRecord) error
	RecordEquity(ctx context.Context, snap types.EquitySnapshot) error
	RecordLevelChange(ctx context.Context, change types.LevelChange) error
	Trades(ctx context.Context, since time.Time) ([]types.TradeRecord, error)
	Equity(ctx context.Context, since time.Time) ([]types.EquitySnapshot, error)
	LevelChanges(ctx context.Context, epic string) ([]types.LevelChange, error)
	Close() error
}
