package capital

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"capital-trading-bot/internal/types"
)

// AccountInfo returns all accounts with their balances.
func (c *Client) AccountInfo(ctx context.Context) ([]types.Account, error) {
	if !c.requireSession(ctx, "AccountInfo") {
		return []types.Account{}, ErrNotAuthenticated
	}

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: pathAccounts})
	if err != nil {
		c.log.Error(ctx, "No response for account info", "error", err)
		return []types.Account{}, err
	}

	var out accountsResponse
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid account info payload", "error", err)
		return []types.Account{}, err
	}
	if out.Accounts == nil {
		out.Accounts = []types.Account{}
	}
	c.log.Info(ctx, "Account information fetched", "accounts", len(out.Accounts))
	return out.Accounts, nil
}

// AvailableCapital returns the available balance of the first account held in currency.
func (c *Client) AvailableCapital(ctx context.Context, currency string) (float64, error) {
	if currency == "" {
		currency = c.cfg.AccountCurrency
	}
	accounts, err := c.AccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Currency, currency) {
			c.log.Info(ctx, "Available capital", "currency", currency, "available", acc.Balance.Available)
			return acc.Balance.Available, nil
		}
	}
	c.log.Warn(ctx, "No account in currency, capital is zero", "currency", currency)
	return 0, nil
}

// PriceHistory returns up to limit bars for epic at the given resolution, oldest first.
func (c *Client) PriceHistory(ctx context.Context, epic, resolution string, limit int) ([]types.Bar, error) {
	if epic == "" || limit <= 0 {
		return []types.Bar{}, fmt.Errorf("capital: invalid price history request (epic=%q, limit=%d)", epic, limit)
	}
	if resolution == "" {
		resolution = "MINUTE"
	}
	if !c.requireSession(ctx, "PriceHistory") {
		return []types.Bar{}, ErrNotAuthenticated
	}

	resp, err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   pathPrices + url.PathEscape(epic),
		Query: url.Values{
			"resolution": {resolution},
			"max":        {strconv.Itoa(limit)},
		},
	})
	if err != nil {
		c.log.Warn(ctx, "No valid response for price history", "epic", epic, "error", err)
		return []types.Bar{}, err
	}

	var out pricesResponse
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid price history payload", "epic", epic, "error", err)
		return []types.Bar{}, err
	}
	bars := make([]types.Bar, 0, len(out.Prices))
	for _, p := range out.Prices {
		bars = append(bars, p.toBar())
	}
	return bars, nil
}

// MarketInfo returns instrument details, dealing rules and the current snapshot.
func (c *Client) MarketInfo(ctx context.Context, epic string) (types.MarketInfo, error) {
	if epic == "" {
		return types.MarketInfo{}, fmt.Errorf("capital: empty epic")
	}
	if !c.requireSession(ctx, "MarketInfo") {
		return types.MarketInfo{}, ErrNotAuthenticated
	}

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: pathMarkets + "/" + url.PathEscape(epic)})
	if err != nil {
		c.log.Warn(ctx, "No valid response for market info", "epic", epic, "error", err)
		return types.MarketInfo{}, err
	}

	var out marketDetails
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid market info payload", "epic", epic, "error", err)
		return types.MarketInfo{}, err
	}
	info := out.toMarketInfo(epic)
	c.log.Debug(ctx, "Market info", "epic", epic, "status", info.MarketStatus, "bid", info.Bid, "min_deal_size", info.MinDealSize)
	return info, nil
}

// Positions returns the open positions. Entries without epic or dealId are dropped.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	if !c.requireSession(ctx, "Positions") {
		return []types.Position{}, ErrNotAuthenticated
	}

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: pathPositions})
	if err != nil {
		c.log.Error(ctx, "No response for positions", "error", err)
		return []types.Position{}, err
	}

	var out positionsResponse
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid positions payload", "error", err)
		return []types.Position{}, err
	}

	positions := make([]types.Position, 0, len(out.Positions))
	for i, raw := range out.Positions {
		var entry positionEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.log.Warn(ctx, "Skipping unparsable position", "index", i, "error", err)
			continue
		}
		p := entry.toPosition(c.cfg.AccountCurrency)
		if p.Epic == "" || p.DealID == "" {
			c.log.Warn(ctx, "Skipping position without epic or dealId", "index", i)
			continue
		}
		positions = append(positions, p)
	}
	c.log.Info(ctx, "Open positions found", "count", len(positions))
	return positions, nil
}

// PlaceOrder opens a market position.
func (c *Client) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.DealConfirmation, error) {
	if order.Epic == "" {
		return nil, fmt.Errorf("capital: order without epic")
	}
	if !order.Direction.Valid() {
		return nil, fmt.Errorf("capital: invalid order direction %q", order.Direction)
	}
	if !order.Size.IsPositive() {
		return nil, fmt.Errorf("capital: order size must be positive, got %s", order.Size)
	}
	if !c.requireSession(ctx, "PlaceOrder") {
		return nil, ErrNotAuthenticated
	}

	payload := orderPayload{
		Epic:        order.Epic,
		Direction:   string(order.Direction),
		Size:        order.Size.InexactFloat64(),
		StopLevel:   roundLevel(order.StopLevel),
		ProfitLevel: roundLevel(order.ProfitLevel),
	}

	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: pathPositions, Body: payload, FinalOnReject: true})
	if err != nil {
		c.log.Error(ctx, "Order failed", "epic", order.Epic, "direction", order.Direction, "error", err)
		return nil, err
	}

	var out dealResponse
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid order response", "epic", order.Epic, "error", err)
		return nil, err
	}
	c.log.Info(ctx, "Order placed",
		"epic", order.Epic,
		"direction", order.Direction,
		"size", order.Size.String(),
		"deal_reference", out.DealReference,
	)
	return &types.DealConfirmation{DealReference: out.DealReference, Epic: order.Epic}, nil
}

// ClosePosition closes an open position by deal id.
func (c *Client) ClosePosition(ctx context.Context, dealID string) (*types.DealConfirmation, error) {
	if dealID == "" {
		return nil, fmt.Errorf("capital: empty deal id")
	}
	if !c.requireSession(ctx, "ClosePosition") {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.Do(ctx, Request{
		Method:        http.MethodDelete,
		Path:          pathPositions + "/" + url.PathEscape(dealID),
		FinalOnReject: true,
	})
	if err != nil {
		c.log.Error(ctx, "Closing position failed", "deal_id", dealID, "error", err)
		return nil, err
	}

	var out dealResponse
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid close response", "deal_id", dealID, "error", err)
		return nil, err
	}
	c.log.Info(ctx, "Position closed", "deal_id", dealID, "deal_reference", out.DealReference)
	return &types.DealConfirmation{DealReference: out.DealReference}, nil
}

// AllMarkets returns every epic the account can access.
func (c *Client) AllMarkets(ctx context.Context) ([]string, error) {
	if !c.requireSession(ctx, "AllMarkets") {
		return []string{}, ErrNotAuthenticated
	}

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: pathMarkets})
	if err != nil {
		c.log.Error(ctx, "No response for market list", "error", err)
		return []string{}, err
	}

	var out marketsResponse
	if err := resp.ParseJSON(&out); err != nil {
		c.log.Error(ctx, "Invalid market list payload", "error", err)
		return []string{}, err
	}
	epics := make([]string, 0, len(out.Markets))
	for _, m := range out.Markets {
		if m.Epic != "" {
			epics = append(epics, m.Epic)
		}
	}
	c.log.Info(ctx, "Markets available", "count", len(epics))
	return epics, nil
}

// roundLevel rounds to 4 decimals; unset and zero levels are omitted.
func roundLevel(level *float64) *float64 {
	if level == nil || *level == 0 {
		return nil
	}
	v := decimal.NewFromFloat(*level).Round(4).InexactFloat64()
	return &v
}
