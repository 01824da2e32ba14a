package capital

import (
	"context"

	"github.com/shopspring/decimal"

	"capital-trading-bot/internal/types"
)

// SizingPolicy controls how much capital a single trade may use.
// The deployable share is CapitalShare of available capital and a trade takes
// PerTradeShare of that.
type SizingPolicy struct {
	CapitalShare  decimal.Decimal
	PerTradeShare decimal.Decimal
}

// DefaultSizingPolicy deploys two thirds of capital and 40% of that per trade.
var DefaultSizingPolicy = SizingPolicy{
	CapitalShare:  decimal.NewFromInt(2).Div(decimal.NewFromInt(3)),
	PerTradeShare: decimal.NewFromFloat(0.4),
}

// ComputeTradeSize returns the order size for the market, floored to a multiple
// of its minimum deal size. It returns zero when the market is not tradeable,
// has no positive bid, or the result is below the minimum.
func ComputeTradeSize(capital float64, market types.MarketInfo) decimal.Decimal {
	return DefaultSizingPolicy.Size(capital, market)
}

// Size applies the policy to capital and market.
func (p SizingPolicy) Size(capital float64, market types.MarketInfo) decimal.Decimal {
	if !market.Tradeable() || market.Bid <= 0 || capital <= 0 {
		return decimal.Zero
	}
	minSize := decimal.NewFromFloat(market.MinDealSize)
	if !minSize.IsPositive() {
		minSize = decimal.NewFromInt(1)
	}

	perTrade := decimal.NewFromFloat(capital).Mul(p.CapitalShare).Mul(p.PerTradeShare)
	raw := perTrade.Div(decimal.NewFromFloat(market.Bid))
	size := raw.Div(minSize).Floor().Mul(minSize)
	if size.LessThan(minSize) {
		return decimal.Zero
	}
	return size
}

// TradeSize fetches market info and available capital and sizes a trade on epic.
// Any failure yields zero.
func (c *Client) TradeSize(ctx context.Context, epic string) decimal.Decimal {
	market, err := c.MarketInfo(ctx, epic)
	if err != nil {
		return decimal.Zero
	}
	if !market.Tradeable() {
		c.log.Info(ctx, "Market not tradeable", "epic", epic, "status", market.MarketStatus)
		return decimal.Zero
	}
	if market.Bid <= 0 {
		c.log.Warn(ctx, "No valid price for market", "epic", epic)
		return decimal.Zero
	}

	capital, err := c.AvailableCapital(ctx, "")
	if err != nil {
		return decimal.Zero
	}
	size := ComputeTradeSize(capital, market)
	if size.IsZero() {
		c.log.Info(ctx, "Trade size below minimum, skipped",
			"epic", epic,
			"capital", capital,
			"bid", market.Bid,
			"min_deal_size", market.MinDealSize,
		)
		return size
	}
	c.log.Debug(ctx, "Trade size computed", "epic", epic, "size", size.String(), "bid", market.Bid)
	return size
}
