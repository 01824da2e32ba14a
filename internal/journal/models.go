package journal

import (
	"time"

	"capital-trading-bot/internal/types"
)

type tradeModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
	Epic          string  `gorm:"column:epic;index"`
	Action        string  `gorm:"column:action"`
	Direction     string  `gorm:"column:direction"`
	Size          float64 `gorm:"column:size"`
	Price         float64 `gorm:"column:price"`
	StopLevel     float64 `gorm:"column:stop_level"`
	ProfitLevel   float64 `gorm:"column:profit_level"`
	DealReference string  `gorm:"column:deal_reference"`
	DealID        string  `gorm:"column:deal_id;index"`
	RealizedPL    float64 `gorm:"column:realized_pl"`
	Reason        string  `gorm:"column:reason"`
	Confidence    float64 `gorm:"column:confidence"`
	Simulated     bool    `gorm:"column:simulated"`
}

func (tradeModel) TableName() string { return "trades" }

type equityModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
	Currency      string  `gorm:"column:currency"`
	Balance       float64 `gorm:"column:balance"`
	Available     float64 `gorm:"column:available"`
	UnrealizedPL  float64 `gorm:"column:unrealized_pl"`
	OpenPositions int     `gorm:"column:open_positions"`
}

func (equityModel) TableName() string { return "equity_snapshots" }

type levelChangeModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
	Epic          string  `gorm:"column:epic;index"`
	OldStopLoss   float64 `gorm:"column:old_stop_loss"`
	OldTakeProfit float64 `gorm:"column:old_take_profit"`
	NewStopLoss   float64 `gorm:"column:new_stop_loss"`
	NewTakeProfit float64 `gorm:"column:new_take_profit"`
	Source        string  `gorm:"column:source"`
}

func (levelChangeModel) TableName() string { return "sltp_changes" }

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func newTradeModel(rec types.TradeRecord) tradeModel {
	return tradeModel{
		ID:            rec.ID,
		CreatedAtUnix: unixMilli(rec.Time),
		Epic:          rec.Epic,
		Action:        rec.Action,
		Direction:     string(rec.Direction),
		Size:          rec.Size,
		Price:         rec.Price,
		StopLevel:     rec.StopLevel,
		ProfitLevel:   rec.ProfitLevel,
		DealReference: rec.DealReference,
		DealID:        rec.DealID,
		RealizedPL:    rec.RealizedPL,
		Reason:        rec.Reason,
		Confidence:    rec.Confidence,
		Simulated:     rec.Simulated,
	}
}

func (m tradeModel) record() types.TradeRecord {
	return types.TradeRecord{
		ID:            m.ID,
		Time:          fromUnixMilli(m.CreatedAtUnix),
		Epic:          m.Epic,
		Action:        m.Action,
		Direction:     types.Direction(m.Direction),
		Size:          m.Size,
		Price:         m.Price,
		StopLevel:     m.StopLevel,
		ProfitLevel:   m.ProfitLevel,
		DealReference: m.DealReference,
		DealID:        m.DealID,
		RealizedPL:    m.RealizedPL,
		Reason:        m.Reason,
		Confidence:    m.Confidence,
		Simulated:     m.Simulated,
	}
}

func (m equityModel) snapshot() types.EquitySnapshot {
	return types.EquitySnapshot{
		Time:          fromUnixMilli(m.CreatedAtUnix),
		Currency:      m.Currency,
		Balance:       m.Balance,
		Available:     m.Available,
		UnrealizedPL:  m.UnrealizedPL,
		OpenPositions: m.OpenPositions,
	}
}

func (m levelChangeModel) change() types.LevelChange {
	return types.LevelChange{
		Time:          fromUnixMilli(m.CreatedAtUnix),
		Epic:          m.Epic,
		OldStopLoss:   m.OldStopLoss,
		OldTakeProfit: m.OldTakeProfit,
		NewStopLoss:   m.NewStopLoss,
		NewTakeProfit: m.NewTakeProfit,
		Source:        m.Source,
	}
}
