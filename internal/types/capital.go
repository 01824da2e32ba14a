package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid reports whether d is one of the two directions the broker accepts.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Opposite returns the closing direction for a position opened in d.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

const MarketTradeable = "TRADEABLE"

// SessionInfo is a read-only view of the broker session for status reporting.
type SessionInfo struct {
	State     string    `json:"state"`
	Valid     bool      `json:"valid"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type Balance struct {
	Balance    float64 `json:"balance"`
	Deposit    float64 `json:"deposit"`
	ProfitLoss float64 `json:"profitLoss"`
	Available  float64 `json:"available"`
}

type Account struct {
	AccountID   string  `json:"accountId"`
	AccountName string  `json:"accountName"`
	Status      string  `json:"status"`
	AccountType string  `json:"accountType"`
	Preferred   bool    `json:"preferred"`
	Currency    string  `json:"currency"`
	Balance     Balance `json:"balance"`
}

type MarketInfo struct {
	Epic         string  `json:"epic"`
	Name         string  `json:"name"`
	Currency     string  `json:"currency"`
	MarketStatus string  `json:"marketStatus"`
	Bid          float64 `json:"bid"`
	Offer        float64 `json:"offer"`
	MinDealSize  float64 `json:"minDealSize"`
}

// Tradeable reports whether the instrument currently accepts orders.
func (m MarketInfo) Tradeable() bool {
	return m.MarketStatus == MarketTradeable
}

type Position struct {
	DealID      string    `json:"dealId"`
	Epic        string    `json:"epic"`
	Direction   Direction `json:"direction"`
	OpenLevel   float64   `json:"openLevel"`
	Size        float64   `json:"size"`
	Profit      float64   `json:"profit"`
	Currency    string    `json:"currency"`
	StopLevel   float64   `json:"stopLevel,omitempty"`
	ProfitLevel float64   `json:"profitLevel,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

type OrderRequest struct {
	Epic        string
	Direction   Direction
	Size        decimal.Decimal
	StopLevel   *float64
	ProfitLevel *float64
}

// DealConfirmation is what the broker answers to an open or close request.
type DealConfirmation struct {
	DealReference string `json:"dealReference"`
	Epic          string `json:"epic,omitempty"`
	Simulated     bool   `json:"simulated,omitempty"`
}
