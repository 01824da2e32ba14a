package sltp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"capital-trading-bot/internal/types"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordLevelChange(ctx context.Context, change types.LevelChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sltp.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParamsLookup(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Fallback, m.Params("AAPL"), "no file falls back to built-in values")

	p := writeFile(t, `
default:
  stop_loss_percent: 0.02
  take_profit_percent: 0.04
BTCUSD:
  stop_loss_percent: 0.05
  take_profit_percent: 0.1
`)
	m, err = NewManager(p)
	require.NoError(t, err)
	assert.Equal(t, Params{StopLossPercent: 0.05, TakeProfitPercent: 0.1}, m.Params("BTCUSD"))
	assert.Equal(t, Params{StopLossPercent: 0.02, TakeProfitPercent: 0.04}, m.Params("AAPL"))
}

func TestInvalidFile(t *testing.T) {
	_, err := NewManager(writeFile(t, "AAPL: {stop_loss_percent: 1.5, take_profit_percent: 0.1}\n"))
	assert.Error(t, err)

	_, err = NewManager(writeFile(t, "not: [valid"))
	assert.Error(t, err)
}

func TestLevels(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "sltp.yaml"))
	require.NoError(t, err)

	stop, profit := m.Levels("AAPL", 100, types.DirectionBuy)
	assert.InDelta(t, 97.0, stop, 1e-9)
	assert.InDelta(t, 105.0, profit, 1e-9)

	stop, profit = m.Levels("AAPL", 100, types.DirectionSell)
	assert.InDelta(t, 103.0, stop, 1e-9)
	assert.InDelta(t, 95.0, profit, 1e-9)
}

func TestUpdate_PersistsAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "sltp.yaml")
	rec := new(MockRecorder)
	rec.On("RecordLevelChange", mock.Anything, mock.MatchedBy(func(c types.LevelChange) bool {
		return c.Epic == "AAPL" &&
			c.OldStopLoss == Fallback.StopLossPercent &&
			c.NewStopLoss == 0.01 &&
			c.NewTakeProfit == 0.02 &&
			c.Source == "test"
	})).Return(nil).Once()

	m, err := NewManager(path, WithRecorder(rec))
	require.NoError(t, err)

	newParams := Params{StopLossPercent: 0.01, TakeProfitPercent: 0.02}
	require.NoError(t, m.Update(context.Background(), "AAPL", newParams, "test"))
	require.NoError(t, m.Update(context.Background(), "AAPL", newParams, "test"), "unchanged values are a no-op")
	rec.AssertExpectations(t)

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, newParams, reloaded.Params("AAPL"))

	assert.Error(t, m.Update(context.Background(), "AAPL", Params{StopLossPercent: 0}, "test"))
	assert.Error(t, m.Update(context.Background(), "", newParams, "test"))
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	p := writeFile(t, "AAPL: {stop_loss_percent: 0.01, take_profit_percent: 0.02}\n")
	m, err := NewManager(p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("AAPL: [broken"), 0o644))
	assert.Error(t, m.Reload(context.Background()))
	assert.Equal(t, 0.01, m.Params("AAPL").StopLossPercent)
}

func TestWatchReloadsOnChange(t *testing.T) {
	p := writeFile(t, "AAPL: {stop_loss_percent: 0.01, take_profit_percent: 0.02}\n")
	m, err := NewManager(p, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(p, []byte("AAPL: {stop_loss_percent: 0.04, take_profit_percent: 0.08}\n"), 0o644))
	assert.Eventually(t, func() bool {
		return m.Params("AAPL").StopLossPercent == 0.04
	}, 2*time.Second, 20*time.Millisecond)
}
