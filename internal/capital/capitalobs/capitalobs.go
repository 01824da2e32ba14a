package capitalobs

import (
	"context"

	"github.com/shopspring/decimal"

	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/trace"
	"capital-trading-bot/internal/types"
)

// observableBroker wraps a Broker with a span and structured logs per call
type observableBroker struct {
	broker interfaces.Broker
}

var (
	_ interfaces.Broker = (*observableBroker)(nil)
	_ interfaces.Broker = (*capital.Client)(nil)
)

func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{broker: broker}
}

func (ob *observableBroker) EnsureSession(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "capital.EnsureSession")
	defer span.End()

	if err := ob.broker.EnsureSession(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to establish session", err)
		return err
	}
	return nil
}

func (ob *observableBroker) IsSessionValid() bool { return ob.broker.IsSessionValid() }

func (ob *observableBroker) SessionInfo() types.SessionInfo { return ob.broker.SessionInfo() }

func (ob *observableBroker) AccountInfo(ctx context.Context) ([]types.Account, error) {
	ctx, span := trace.StartSpan(ctx, "capital.AccountInfo")
	defer span.End()

	accounts, err := ob.broker.AccountInfo(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch accounts", err)
		return accounts, err
	}
	logger.DebugSkip(ctx, 1, "Accounts fetched", "count", len(accounts))
	return accounts, nil
}

func (ob *observableBroker) AvailableCapital(ctx context.Context, currency string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "capital.AvailableCapital")
	defer span.End()

	available, err := ob.broker.AvailableCapital(ctx, currency)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch available capital", err, "currency", currency)
		return available, err
	}
	logger.DebugSkip(ctx, 1, "Available capital", "currency", currency, "available", available)
	return available, nil
}

func (ob *observableBroker) PriceHistory(ctx context.Context, epic, resolution string, limit int) ([]types.Bar, error) {
	ctx, span := trace.StartSpan(ctx, "capital.PriceHistory")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching price history", "epic", epic, "resolution", resolution, "limit", limit)

	bars, err := ob.broker.PriceHistory(ctx, epic, resolution, limit)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch price history", err, "epic", epic, "resolution", resolution)
		return bars, err
	}

	logger.DebugSkip(ctx, 1, "Price history fetched", "epic", epic, "count", len(bars))
	return bars, nil
}

func (ob *observableBroker) MarketInfo(ctx context.Context, epic string) (types.MarketInfo, error) {
	ctx, span := trace.StartSpan(ctx, "capital.MarketInfo")
	defer span.End()

	info, err := ob.broker.MarketInfo(ctx, epic)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch market info", err, "epic", epic)
		return info, err
	}
	logger.DebugSkip(ctx, 1, "Market info fetched",
		"epic", epic,
		"status", info.MarketStatus,
		"bid", info.Bid,
		"offer", info.Offer,
		"min_deal_size", info.MinDealSize,
	)
	return info, nil
}

func (ob *observableBroker) AllMarkets(ctx context.Context) ([]string, error) {
	ctx, span := trace.StartSpan(ctx, "capital.AllMarkets")
	defer span.End()

	epics, err := ob.broker.AllMarkets(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch markets", err)
		return epics, err
	}
	logger.DebugSkip(ctx, 1, "Markets fetched", "count", len(epics))
	return epics, nil
}

func (ob *observableBroker) Positions(ctx context.Context) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "capital.Positions")
	defer span.End()

	positions, err := ob.broker.Positions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err)
		return positions, err
	}
	logger.DebugSkip(ctx, 1, "Positions fetched", "count", len(positions))
	return positions, nil
}

func (ob *observableBroker) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.DealConfirmation, error) {
	ctx, span := trace.StartSpan(ctx, "capital.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"epic", order.Epic,
		"direction", order.Direction,
		"size", order.Size.String(),
		"has_stop", order.StopLevel != nil,
		"has_profit", order.ProfitLevel != nil,
	)

	conf, err := ob.broker.PlaceOrder(ctx, order)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"epic", order.Epic,
			"direction", order.Direction,
			"size", order.Size.String(),
		)
		return conf, err
	}

	if conf != nil {
		logger.InfoSkip(ctx, 1, "Order placed", "epic", order.Epic, "deal_reference", conf.DealReference)
	}
	return conf, nil
}

func (ob *observableBroker) ClosePosition(ctx context.Context, dealID string) (*types.DealConfirmation, error) {
	ctx, span := trace.StartSpan(ctx, "capital.ClosePosition")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Closing position", "deal_id", dealID)

	conf, err := ob.broker.ClosePosition(ctx, dealID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close position", err, "deal_id", dealID)
		return conf, err
	}

	if conf != nil {
		logger.InfoSkip(ctx, 1, "Position close requested", "deal_id", dealID, "deal_reference", conf.DealReference)
	}
	return conf, nil
}

func (ob *observableBroker) TradeSize(ctx context.Context, epic string) decimal.Decimal {
	ctx, span := trace.StartSpan(ctx, "capital.TradeSize")
	defer span.End()

	size := ob.broker.TradeSize(ctx, epic)
	logger.DebugSkip(ctx, 1, "Trade size computed", "epic", epic, "size", size.String())
	return size
}
