package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"capital-trading-bot/internal/types"
)

// Broker is the account and order surface the engine trades through.
type Broker interface {
	EnsureSession(ctx context.Context) error
	IsSessionValid() bool
	SessionInfo() types.SessionInfo

	AccountInfo(ctx context.Context) ([]types.Account, error)
	AvailableCapital(ctx context.Context, currency string) (float64, error)
	PriceHistory(ctx context.Context, epic, resolution string, limit int) ([]types.Bar, error)
	MarketInfo(ctx context.Context, epic string) (types.MarketInfo, error)
	AllMarkets(ctx context.Context) ([]string, error)
	Positions(ctx context.Context) ([]types.Position, error)
	PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.DealConfirmation, error)
	ClosePosition(ctx context.Context, dealID string) (*types.DealConfirmation, error)
	TradeSize(ctx context.Context, epic string) decimal.Decimal
}
