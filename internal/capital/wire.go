package capital

import (
	"encoding/json"
	"strings"
	"time"

	"capital-trading-bot/internal/types"
)

const (
	pathSession   = "/api/v1/session"
	pathAccounts  = "/api/v1/accounts"
	pathPrices    = "/api/v1/prices/"
	pathMarkets   = "/api/v1/markets"
	pathPositions = "/api/v1/positions"

	snapshotTimeLayout = "2006-01-02T15:04:05"
)

type accountsResponse struct {
	Accounts []types.Account `json:"accounts"`
}

type pricePoint struct {
	Bid *float64 `json:"bid"`
	Ask *float64 `json:"ask"`
}

func (p pricePoint) bid() float64 {
	if p.Bid != nil {
		return *p.Bid
	}
	if p.Ask != nil {
		return *p.Ask
	}
	return 0
}

type priceSnapshot struct {
	SnapshotTime     string     `json:"snapshotTime"`
	SnapshotTimeUTC  string     `json:"snapshotTimeUTC"`
	OpenPrice        pricePoint `json:"openPrice"`
	ClosePrice       pricePoint `json:"closePrice"`
	HighPrice        pricePoint `json:"highPrice"`
	LowPrice         pricePoint `json:"lowPrice"`
	LastTradedVolume float64    `json:"lastTradedVolume"`
}

type pricesResponse struct {
	Prices []priceSnapshot `json:"prices"`
}

// toBar uses bid prices; the close ask is carried separately for BUY fills.
func (s priceSnapshot) toBar() types.Bar {
	bar := types.Bar{
		Open:   s.OpenPrice.bid(),
		High:   s.HighPrice.bid(),
		Low:    s.LowPrice.bid(),
		Close:  s.ClosePrice.bid(),
		Volume: s.LastTradedVolume,
	}
	if s.ClosePrice.Ask != nil {
		bar.Ask = *s.ClosePrice.Ask
	}
	ts := s.SnapshotTimeUTC
	if ts == "" {
		ts = s.SnapshotTime
	}
	ts = strings.Replace(strings.ReplaceAll(ts, "/", "-"), " ", "T", 1)
	if t, err := time.Parse(snapshotTimeLayout, ts); err == nil {
		bar.Time = t.UTC()
	}
	return bar
}

type marketDetails struct {
	MinDealSize *float64 `json:"minDealSize"`
	Instrument  struct {
		Epic         string `json:"epic"`
		Name         string `json:"name"`
		Currency     string `json:"currency"`
		MarketStatus string `json:"marketStatus"`
	} `json:"instrument"`
	DealingRules struct {
		MinDealSize struct {
			Value *float64 `json:"value"`
		} `json:"minDealSize"`
	} `json:"dealingRules"`
	Snapshot struct {
		MarketStatus string  `json:"marketStatus"`
		Bid          float64 `json:"bid"`
		Offer        float64 `json:"offer"`
	} `json:"snapshot"`
}

func (m marketDetails) toMarketInfo(epic string) types.MarketInfo {
	info := types.MarketInfo{
		Epic:         m.Instrument.Epic,
		Name:         m.Instrument.Name,
		Currency:     m.Instrument.Currency,
		MarketStatus: m.Snapshot.MarketStatus,
		Bid:          m.Snapshot.Bid,
		Offer:        m.Snapshot.Offer,
		MinDealSize:  1,
	}
	if info.Epic == "" {
		info.Epic = epic
	}
	if info.MarketStatus == "" {
		info.MarketStatus = m.Instrument.MarketStatus
	}
	switch {
	case m.MinDealSize != nil && *m.MinDealSize > 0:
		info.MinDealSize = *m.MinDealSize
	case m.DealingRules.MinDealSize.Value != nil && *m.DealingRules.MinDealSize.Value > 0:
		info.MinDealSize = *m.DealingRules.MinDealSize.Value
	}
	return info
}

type marketsResponse struct {
	Markets []struct {
		Epic string `json:"epic"`
	} `json:"markets"`
}

type positionsResponse struct {
	Positions []json.RawMessage `json:"positions"`
}

type positionEntry struct {
	Position struct {
		DealID         string  `json:"dealId"`
		Direction      string  `json:"direction"`
		Level          float64 `json:"level"`
		Size           float64 `json:"size"`
		UPL            float64 `json:"upl"`
		Currency       string  `json:"currency"`
		StopLevel      float64 `json:"stopLevel"`
		ProfitLevel    float64 `json:"profitLevel"`
		CreatedDateUTC string  `json:"createdDateUTC"`
	} `json:"position"`
	Market struct {
		Epic string `json:"epic"`
	} `json:"market"`
}

func (e positionEntry) toPosition(defaultCurrency string) types.Position {
	p := types.Position{
		DealID:      e.Position.DealID,
		Epic:        e.Market.Epic,
		Direction:   types.Direction(e.Position.Direction),
		OpenLevel:   e.Position.Level,
		Size:        e.Position.Size,
		Profit:      e.Position.UPL,
		Currency:    e.Position.Currency,
		StopLevel:   e.Position.StopLevel,
		ProfitLevel: e.Position.ProfitLevel,
	}
	if p.Currency == "" {
		p.Currency = defaultCurrency
	}
	if e.Position.CreatedDateUTC != "" {
		if t, err := time.Parse("2006-01-02T15:04:05.000", e.Position.CreatedDateUTC); err == nil {
			p.CreatedAt = t.UTC()
		} else if t, err := time.Parse(snapshotTimeLayout, e.Position.CreatedDateUTC); err == nil {
			p.CreatedAt = t.UTC()
		}
	}
	return p
}

type orderPayload struct {
	Epic           string   `json:"epic"`
	Direction      string   `json:"direction"`
	Size           float64  `json:"size"`
	GuaranteedStop bool     `json:"guaranteedStop"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
}

type dealResponse struct {
	DealReference string `json:"dealReference"`
}
