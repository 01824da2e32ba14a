package types

import "time"

// Bar is one OHLC candle built from the bid side of a broker price snapshot.
type Bar struct {
	Time                   time.Time
	Open, High, Low, Close float64
	Ask                    float64
	Volume                 float64
}

type Indicators struct {
	SMA        map[int]float64
	RSI        float64
	MACD       float64
	MACDSignal float64
}

type Decision struct {
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type StepResult struct {
	Epic      string             `json:"epic"`
	Decision  Decision           `json:"decision"`
	Price     float64            `json:"price"`
	Time      int64              `json:"time"`
	Sentiment float64            `json:"sentiment"`
	Orders    []DealConfirmation `json:"orders"`
	Reason    string             `json:"reason"`
}

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)
