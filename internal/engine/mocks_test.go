package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"capital-trading-bot/internal/store"
	"capital-trading-bot/internal/types"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) EnsureSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBroker) IsSessionValid() bool { return m.Called().Bool(0) }

func (m *MockBroker) SessionInfo() types.SessionInfo {
	return m.Called().Get(0).(types.SessionInfo)
}

func (m *MockBroker) AccountInfo(ctx context.Context) ([]types.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Account), args.Error(1)
}

func (m *MockBroker) AvailableCapital(ctx context.Context, currency string) (float64, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBroker) PriceHistory(ctx context.Context, epic, resolution string, limit int) ([]types.Bar, error) {
	args := m.Called(ctx, epic, resolution, limit)
	return args.Get(0).([]types.Bar), args.Error(1)
}

func (m *MockBroker) MarketInfo(ctx context.Context, epic string) (types.MarketInfo, error) {
	args := m.Called(ctx, epic)
	return args.Get(0).(types.MarketInfo), args.Error(1)
}

func (m *MockBroker) AllMarkets(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockBroker) Positions(ctx context.Context) ([]types.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Position), args.Error(1)
}

func (m *MockBroker) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.DealConfirmation, error) {
	args := m.Called(ctx, order)
	conf, _ := args.Get(0).(*types.DealConfirmation)
	return conf, args.Error(1)
}

func (m *MockBroker) ClosePosition(ctx context.Context, dealID string) (*types.DealConfirmation, error) {
	args := m.Called(ctx, dealID)
	conf, _ := args.Get(0).(*types.DealConfirmation)
	return conf, args.Error(1)
}

func (m *MockBroker) TradeSize(ctx context.Context, epic string) decimal.Decimal {
	return m.Called(ctx, epic).Get(0).(decimal.Decimal)
}

type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) Decide(ctx context.Context, epic string, latest types.Bar, inds types.Indicators, contextData map[string]any) (types.Decision, error) {
	args := m.Called(ctx, epic, latest, inds, contextData)
	return args.Get(0).(types.Decision), args.Error(1)
}

type MockExit struct {
	mock.Mock
}

func (m *MockExit) ShouldClose(pos types.Position, inds types.Indicators) (bool, string) {
	args := m.Called(pos, inds)
	return args.Bool(0), args.String(1)
}

type MockSentiment struct {
	mock.Mock
}

func (m *MockSentiment) Score(ctx context.Context, query string) (float64, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(float64), args.Error(1)
}

// memJournal keeps records in memory.
type memJournal struct {
	mu     sync.Mutex
	trades []types.TradeRecord
	equity []types.EquitySnapshot
}

func (j *memJournal) RecordTrade(_ context.Context, rec types.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, rec)
	return nil
}

func (j *memJournal) RecordEquity(_ context.Context, snap types.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.equity = append(j.equity, snap)
	return nil
}

func (j *memJournal) RecordLevelChange(context.Context, types.LevelChange) error { return nil }

func (j *memJournal) Trades(context.Context, time.Time) ([]types.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]types.TradeRecord(nil), j.trades...), nil
}

func (j *memJournal) Equity(context.Context, time.Time) ([]types.EquitySnapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]types.EquitySnapshot(nil), j.equity...), nil
}

func (j *memJournal) LevelChanges(context.Context, string) ([]types.LevelChange, error) {
	return nil, nil
}

func (j *memJournal) Close() error { return nil }

// fixedLevels returns the same stop and profit for every epic.
type fixedLevels struct{ stop, profit float64 }

func (f fixedLevels) Levels(string, float64, types.Direction) (float64, float64) {
	return f.stop, f.profit
}

func loadConfig(t *testing.T, body string) *store.Config {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	cfg, err := store.LoadConfig(p)
	require.NoError(t, err)
	return cfg
}

func risingBars(n int) []types.Bar {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = types.Bar{Time: start.Add(time.Duration(i) * time.Minute), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Ask: c + 0.1}
	}
	return bars
}
