package types

import "time"

// TradeRecord is one open or close as seen by the bot.
type TradeRecord struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Epic          string    `json:"epic"`
	Action        string    `json:"action"` // OPEN or CLOSE
	Direction     Direction `json:"direction"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	StopLevel     float64   `json:"stopLevel,omitempty"`
	ProfitLevel   float64   `json:"profitLevel,omitempty"`
	DealReference string    `json:"dealReference,omitempty"`
	DealID        string    `json:"dealId,omitempty"`
	RealizedPL    float64   `json:"realizedPL,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	Simulated     bool      `json:"simulated"`
}

const (
	TradeOpen  = "OPEN"
	TradeClose = "CLOSE"
)

type EquitySnapshot struct {
	Time          time.Time `json:"time"`
	Currency      string    `json:"currency"`
	Balance       float64   `json:"balance"`
	Available     float64   `json:"available"`
	UnrealizedPL  float64   `json:"unrealizedPL"`
	OpenPositions int       `json:"openPositions"`
}

// LevelChange records an edit of an epic's stop-loss / take-profit percentages.
type LevelChange struct {
	Time          time.Time `json:"time"`
	Epic          string    `json:"epic"`
	OldStopLoss   float64   `json:"oldStopLoss"`
	OldTakeProfit float64   `json:"oldTakeProfit"`
	NewStopLoss   float64   `json:"newStopLoss"`
	NewTakeProfit float64   `json:"newTakeProfit"`
	Source        string    `json:"source"`
}

// CycleReport summarises one pass of the engine over the universe.
type CycleReport struct {
	Started  time.Time          `json:"started"`
	Finished time.Time          `json:"finished"`
	Results  []StepResult       `json:"results"`
	Closed   []DealConfirmation `json:"closed"`
	Equity   *EquitySnapshot    `json:"equity,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}
