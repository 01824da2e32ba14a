package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"capital-trading-bot/internal/engine/engineobs"
	"capital-trading-bot/internal/tradelog"
	"capital-trading-bot/internal/types"
)

const liveConfig = "mode: LIVE\nuniverse: {static: [AAPL]}\nengine: {max_open_positions: 3, manage_positions: true}\n"

var buy = types.Decision{Action: types.ActionBuy, Confidence: 0.75, Reason: "oversold"}

func newTestEngine(t *testing.T, cfgBody string) (*Engine, *MockBroker, *MockDecider, *memJournal) {
	t.Helper()
	brk := new(MockBroker)
	dec := new(MockDecider)
	j := &memJournal{}
	eng := New(loadConfig(t, cfgBody), Deps{
		Broker:   brk,
		Decider:  dec,
		Levels:   fixedLevels{stop: 95, profit: 110},
		Journal:  j,
		TradeLog: tradelog.New(t.TempDir()),
	})
	return eng, brk, dec, j
}

func TestStep_LiveOrder(t *testing.T) {
	eng, brk, dec, j := newTestEngine(t, liveConfig)
	ctx := context.Background()

	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil).Once()
	brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(60), nil)
	dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.MatchedBy(func(m map[string]any) bool {
		return m["sentiment"] == 0.5 && m["dry_run"] == false
	})).Return(buy, nil)
	brk.On("TradeSize", mock.Anything, "AAPL").Return(decimal.NewFromInt(2))
	brk.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o types.OrderRequest) bool {
		return o.Epic == "AAPL" &&
			o.Direction == types.DirectionBuy &&
			o.Size.Equal(decimal.NewFromInt(2)) &&
			o.StopLevel != nil && *o.StopLevel == 95 &&
			o.ProfitLevel != nil && *o.ProfitLevel == 110
	})).Return(&types.DealConfirmation{DealReference: "ref-1", Epic: "AAPL"}, nil).Once()

	res, err := eng.Step(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "ref-1", res.Orders[0].DealReference)
	assert.Equal(t, 159.0, res.Price)

	require.Len(t, j.trades, 1)
	assert.Equal(t, types.TradeOpen, j.trades[0].Action)
	assert.Equal(t, 2.0, j.trades[0].Size)
	assert.Equal(t, 95.0, j.trades[0].StopLevel)
	assert.False(t, j.trades[0].Simulated)

	// the epic now holds a position, so a second signal is ignored
	res, err = eng.Step(ctx, "AAPL")
	require.NoError(t, err)
	assert.Empty(t, res.Orders)
	assert.Contains(t, res.Reason, "position already open")
	brk.AssertExpectations(t)
}

func TestStep_DryRunSimulates(t *testing.T) {
	eng, brk, dec, j := newTestEngine(t, "universe: {static: [AAPL]}\n")

	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil)
	brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(60), nil)
	dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).Return(
		types.Decision{Action: types.ActionSell, Confidence: 0.8, Reason: "overbought"}, nil)
	brk.On("TradeSize", mock.Anything, "AAPL").Return(decimal.NewFromFloat(0.5))

	res, err := eng.Step(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.True(t, res.Orders[0].Simulated)
	assert.Contains(t, res.Orders[0].DealReference, "dry-run-")
	brk.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

	require.Len(t, j.trades, 1)
	assert.Equal(t, types.DirectionSell, j.trades[0].Direction)
	assert.True(t, j.trades[0].Simulated)
}

func TestStep_Skips(t *testing.T) {
	tests := []struct {
		name      string
		positions []types.Position
		decision  types.Decision
		size      decimal.Decimal
		reason    string
	}{
		{
			name:      "existing position",
			positions: []types.Position{{DealID: "d1", Epic: "AAPL", Direction: types.DirectionBuy}},
			decision:  buy,
			reason:    "position already open",
		},
		{
			name:     "zero size",
			decision: buy,
			size:     decimal.Zero,
			reason:   "no tradeable size",
		},
		{
			name:     "low confidence",
			decision: types.Decision{Action: types.ActionBuy, Confidence: 0.5},
		},
		{
			name:     "hold",
			decision: types.Decision{Action: types.ActionHold, Reason: "mixed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, brk, dec, j := newTestEngine(t, liveConfig)
			brk.On("Positions", mock.Anything).Return(append([]types.Position{}, tt.positions...), nil)
			brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(60), nil)
			dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).Return(tt.decision, nil)
			brk.On("TradeSize", mock.Anything, "AAPL").Return(tt.size)

			res, err := eng.Step(context.Background(), "AAPL")
			require.NoError(t, err)
			assert.Empty(t, res.Orders)
			if tt.reason != "" {
				assert.Contains(t, res.Reason, tt.reason)
			}
			assert.Empty(t, j.trades)
			brk.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestStep_OrderFailureReleasesEpic(t *testing.T) {
	eng, brk, dec, _ := newTestEngine(t, liveConfig)
	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil)
	brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(60), nil)
	dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).Return(buy, nil)
	brk.On("TradeSize", mock.Anything, "AAPL").Return(decimal.NewFromInt(1))
	brk.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, errors.New("no response")).Once()
	brk.On("PlaceOrder", mock.Anything, mock.Anything).Return(&types.DealConfirmation{DealReference: "ref-2"}, nil).Once()

	res, err := eng.Step(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Empty(t, res.Orders)
	assert.Contains(t, res.Reason, "order_err")

	res, err = eng.Step(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, res.Orders, 1, "failed order does not block the epic")
}

func TestStep_InsufficientHistory(t *testing.T) {
	eng, brk, dec, _ := newTestEngine(t, liveConfig)
	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil)
	brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(10), nil)

	_, err := eng.Step(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrInsufficientHistory)
	dec.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStep_SentimentFallback(t *testing.T) {
	brk := new(MockBroker)
	dec := new(MockDecider)
	sent := new(MockSentiment)
	eng := New(loadConfig(t, liveConfig), Deps{Broker: brk, Decider: dec, Sentiment: sent})

	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil)
	brk.On("PriceHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(risingBars(60), nil)
	sent.On("Score", mock.Anything, "AAPL").Return(0.9, nil)
	sent.On("Score", mock.Anything, "MSFT").Return(0.0, errors.New("scrape failed"))
	dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.MatchedBy(func(m map[string]any) bool {
		return m["sentiment"] == 0.9
	})).Return(types.Decision{Action: types.ActionHold}, nil)
	dec.On("Decide", mock.Anything, "MSFT", mock.Anything, mock.Anything, mock.MatchedBy(func(m map[string]any) bool {
		return m["sentiment"] == 0.5
	})).Return(types.Decision{Action: types.ActionHold}, nil)

	res, err := eng.Step(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0.9, res.Sentiment)
	res, err = eng.Step(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Sentiment)
	dec.AssertExpectations(t)
}

func TestManagePositions(t *testing.T) {
	brk := new(MockBroker)
	exit := new(MockExit)
	j := &memJournal{}
	eng := New(loadConfig(t, liveConfig), Deps{Broker: brk, Decider: new(MockDecider), Exit: exit, Journal: j})

	winner := types.Position{DealID: "d1", Epic: "AAPL", Direction: types.DirectionBuy, Size: 2, OpenLevel: 150, Profit: 12}
	keeper := types.Position{DealID: "d2", Epic: "BTCUSD", Direction: types.DirectionSell, Size: 1, Profit: 3}
	brk.On("Positions", mock.Anything).Return([]types.Position{winner, keeper}, nil)
	brk.On("PriceHistory", mock.Anything, mock.Anything, "MINUTE", 100).Return(risingBars(60), nil)
	exit.On("ShouldClose", winner, mock.Anything).Return(true, "rsi above 80")
	exit.On("ShouldClose", keeper, mock.Anything).Return(false, "")
	brk.On("ClosePosition", mock.Anything, "d1").Return(&types.DealConfirmation{DealReference: "close-1"}, nil).Once()

	closed, err := eng.ManagePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "AAPL", closed[0].Epic, "epic filled in from the position")

	require.Len(t, j.trades, 1)
	rec := j.trades[0]
	assert.Equal(t, types.TradeClose, rec.Action)
	assert.Equal(t, types.DirectionSell, rec.Direction)
	assert.Equal(t, 12.0, rec.RealizedPL)
	assert.Equal(t, "d1", rec.DealID)
	assert.False(t, eng.positions.has("AAPL"))
	assert.True(t, eng.positions.has("BTCUSD"))
	brk.AssertExpectations(t)
}

func TestCycle(t *testing.T) {
	cfg := "mode: LIVE\nuniverse: {static: [AAPL, MSFT, AAPL]}\nengine: {concurrency: 2}\n"
	eng, brk, dec, j := newTestEngine(t, cfg)
	obs := engineobs.Wrap(eng)

	brk.On("EnsureSession", mock.Anything).Return(nil)
	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil)
	brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(60), nil)
	brk.On("PriceHistory", mock.Anything, "MSFT", "MINUTE", 100).Return([]types.Bar{}, errors.New("exhausted"))
	dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).Return(types.Decision{Action: types.ActionHold}, nil)
	brk.On("AccountInfo", mock.Anything).Return([]types.Account{
		{AccountID: "usd", Currency: "USD", Balance: types.Balance{Balance: 1}},
		{AccountID: "chf", Currency: "CHF", Balance: types.Balance{Balance: 1000, Available: 900, ProfitLoss: -5}},
	}, nil)

	report, err := obs.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "AAPL", report.Results[0].Epic)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "MSFT")
	require.NotNil(t, report.Equity)
	assert.Equal(t, 900.0, report.Equity.Available)
	assert.Equal(t, -5.0, report.Equity.UnrealizedPL)
	assert.Len(t, j.equity, 1)
	assert.Same(t, report, eng.LastReport())
	brk.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything)
}

func TestCycle_SessionFailure(t *testing.T) {
	eng, brk, _, _ := newTestEngine(t, liveConfig)
	brk.On("EnsureSession", mock.Anything).Return(errors.New("auth failed"))

	_, err := eng.Cycle(context.Background())
	assert.Error(t, err)
	assert.Nil(t, eng.LastReport())
}

func TestCycle_DryRunKeepsSimulatedPosition(t *testing.T) {
	eng, brk, dec, j := newTestEngine(t, "universe: {static: [AAPL]}\nengine: {manage_positions: true}\n")

	brk.On("EnsureSession", mock.Anything).Return(nil)
	brk.On("Positions", mock.Anything).Return([]types.Position{}, nil)
	brk.On("PriceHistory", mock.Anything, "AAPL", "MINUTE", 100).Return(risingBars(60), nil)
	dec.On("Decide", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything).Return(buy, nil)
	brk.On("TradeSize", mock.Anything, "AAPL").Return(decimal.NewFromFloat(1))
	brk.On("AccountInfo", mock.Anything).Return([]types.Account{
		{AccountID: "chf", Currency: "CHF", Balance: types.Balance{Balance: 1000, Available: 1000}},
	}, nil)

	for i := 0; i < 3; i++ {
		report, err := eng.Cycle(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		if i > 0 {
			assert.Empty(t, report.Results[0].Orders, "cycle %d", i)
			assert.Contains(t, report.Results[0].Reason, "position already open")
		}
		require.NotNil(t, report.Equity)
		assert.Equal(t, 1, report.Equity.OpenPositions)
	}

	require.Len(t, j.trades, 1)
	assert.Equal(t, types.TradeOpen, j.trades[0].Action)
	assert.True(t, j.trades[0].Simulated)
	brk.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestPositionManager_RefreshKeepsSimulated(t *testing.T) {
	pm := newPositionManager()
	pm.refresh([]types.Position{{DealID: "d1", Epic: "GOLD"}})
	pm.confirm("AAPL", simulatedPrefix+"x", types.DirectionBuy, 1, 100, time.Time{})

	// real positions follow the broker, simulated ones stay
	pm.refresh(nil)
	assert.False(t, pm.has("GOLD"))
	assert.True(t, pm.has("AAPL"))

	// a real broker position on the same epic wins
	pm.refresh([]types.Position{{DealID: "d2", Epic: "AAPL"}})
	require.True(t, pm.has("AAPL"))
	assert.Equal(t, "d2", pm.positions["AAPL"].dealID)
	pm.refresh(nil)
	assert.Zero(t, pm.count())
}

func TestUniverseFromBroker(t *testing.T) {
	eng, brk, _, _ := newTestEngine(t, "universe: {static: [GOLD], from_broker: true, max: 3}\n")
	brk.On("AllMarkets", mock.Anything).Return([]string{"AAPL", "GOLD", "MSFT", "TSLA"}, nil)

	epics, err := eng.universe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GOLD", "AAPL", "MSFT"}, epics)
}

func TestNewDecider(t *testing.T) {
	d, exit := NewDecider(loadConfig(t, "universe: {static: [AAPL]}\ndecider: {kind: noop}\n"))
	got, err := d.Decide(context.Background(), "AAPL", types.Bar{}, types.Indicators{}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, got.Action)
	require.NotNil(t, exit)

	ok, _ := exit.ShouldClose(types.Position{Direction: types.DirectionBuy, Profit: 1}, types.Indicators{RSI: 90})
	assert.True(t, ok)
}
