package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/tradelog"
	"capital-trading-bot/internal/types"
)

var errNoConfirmation = errors.New("broker returned no deal confirmation")

// simulatedPrefix marks deal references made up in dry-run mode.
const simulatedPrefix = "dry-run-"

// orderExecutor sends or simulates orders and records every fill in the
// journal and the trade log.
type orderExecutor struct {
	broker  interfaces.Broker
	journal interfaces.Journal
	tlog    *tradelog.Log
	dryRun  bool
	now     func() time.Time
}

func newOrderExecutor(broker interfaces.Broker, journal interfaces.Journal, tlog *tradelog.Log, dryRun bool) *orderExecutor {
	return &orderExecutor{broker: broker, journal: journal, tlog: tlog, dryRun: dryRun, now: time.Now}
}

func simulatedDeal(epic string) *types.DealConfirmation {
	return &types.DealConfirmation{DealReference: simulatedPrefix + uuid.NewString(), Epic: epic, Simulated: true}
}

// open places a market order. In dry-run mode nothing is sent and a
// simulated confirmation is returned.
func (oe *orderExecutor) open(ctx context.Context, order types.OrderRequest, price float64, d types.Decision) (*types.DealConfirmation, error) {
	var (
		conf *types.DealConfirmation
		err  error
	)
	if oe.dryRun {
		conf = simulatedDeal(order.Epic)
		logger.Info(ctx, "Dry run: order not sent", "epic", order.Epic, "direction", order.Direction, "size", order.Size.String())
	} else {
		conf, err = oe.broker.PlaceOrder(ctx, order)
		if err == nil && conf == nil {
			err = errNoConfirmation
		}
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to place order", err,
				"epic", order.Epic,
				"direction", order.Direction,
				"size", order.Size.String(),
				"price", price,
			)
			return nil, err
		}
	}

	size := sizeOf(order.Size)
	rec := types.TradeRecord{
		Time:          oe.now(),
		Epic:          order.Epic,
		Action:        types.TradeOpen,
		Direction:     order.Direction,
		Size:          size,
		Price:         price,
		DealReference: conf.DealReference,
		Reason:        d.Reason,
		Confidence:    d.Confidence,
		Simulated:     conf.Simulated,
	}
	if order.StopLevel != nil {
		rec.StopLevel = *order.StopLevel
	}
	if order.ProfitLevel != nil {
		rec.ProfitLevel = *order.ProfitLevel
	}
	logger.Trade(ctx, order.Epic, string(order.Direction), size, price, conf.DealReference, "simulated", conf.Simulated)
	oe.record(ctx, rec)
	return conf, nil
}

// close closes pos at its current profit.
func (oe *orderExecutor) close(ctx context.Context, pos types.Position, reason string) (*types.DealConfirmation, error) {
	var (
		conf *types.DealConfirmation
		err  error
	)
	if oe.dryRun {
		conf = simulatedDeal(pos.Epic)
		logger.Info(ctx, "Dry run: close not sent", "epic", pos.Epic, "deal_id", pos.DealID)
	} else {
		conf, err = oe.broker.ClosePosition(ctx, pos.DealID)
		if err == nil && conf == nil {
			err = errNoConfirmation
		}
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to close position", err, "epic", pos.Epic, "deal_id", pos.DealID)
			return nil, err
		}
		if conf.Epic == "" {
			conf.Epic = pos.Epic
		}
	}

	logger.Info(ctx, "Position closed",
		"epic", pos.Epic,
		"deal_id", pos.DealID,
		"direction", pos.Direction,
		"profit", pos.Profit,
		"reason", reason,
		"simulated", conf.Simulated,
	)
	oe.record(ctx, types.TradeRecord{
		Time:          oe.now(),
		Epic:          pos.Epic,
		Action:        types.TradeClose,
		Direction:     pos.Direction.Opposite(),
		Size:          pos.Size,
		Price:         pos.OpenLevel,
		DealReference: conf.DealReference,
		DealID:        pos.DealID,
		RealizedPL:    pos.Profit,
		Reason:        reason,
		Simulated:     conf.Simulated,
	})
	return conf, nil
}

func (oe *orderExecutor) record(ctx context.Context, rec types.TradeRecord) {
	if oe.journal != nil {
		if err := oe.journal.RecordTrade(ctx, rec); err != nil {
			logger.ErrorWithErr(ctx, "Failed to journal trade", err, "epic", rec.Epic, "action", rec.Action)
		}
	}
	if oe.tlog != nil {
		if err := oe.tlog.Append(tradelog.EntryFromTrade(rec)); err != nil {
			logger.ErrorWithErr(ctx, "Failed to append trade log", err, "epic", rec.Epic)
		}
	}
}

// logDecision appends the decision and its inputs to the decision log.
func (oe *orderExecutor) logDecision(ctx context.Context, epic string, d types.Decision, price, sentiment float64, inds types.Indicators) {
	if oe.tlog == nil {
		return
	}
	err := oe.tlog.AppendDecision(tradelog.DecisionEntry{
		Epic:       epic,
		Action:     d.Action,
		Confidence: d.Confidence,
		Reason:     d.Reason,
		Price:      price,
		Indicators: indicatorFields(inds),
		Extra:      map[string]any{"sentiment": sentiment, "dry_run": oe.dryRun},
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to append decision log", err, "epic", epic)
	}
}

func sizeOf(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
