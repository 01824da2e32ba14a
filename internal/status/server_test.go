package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/journal"
	"capital-trading-bot/internal/sltp"
	"capital-trading-bot/internal/types"
)

type stubBroker struct {
	interfaces.Broker
	failPositions bool
}

func (stubBroker) SessionInfo() types.SessionInfo {
	return types.SessionInfo{State: "ACTIVE", Valid: true}
}

func (b stubBroker) Positions(context.Context) ([]types.Position, error) {
	if b.failPositions {
		return []types.Position{}, errors.New("no response")
	}
	return []types.Position{{DealID: "d1", Epic: "AAPL", Direction: types.DirectionBuy, Size: 1}}, nil
}

func (stubBroker) AccountInfo(context.Context) ([]types.Account, error) {
	return []types.Account{{AccountID: "a1", Currency: "CHF", Balance: types.Balance{Available: 500}}}, nil
}

type staticReports struct{ r *types.CycleReport }

func (s staticReports) LastReport() *types.CycleReport { return s.r }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Broker == nil {
		cfg.Broker = stubBroker{}
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestNewServerRequiresBroker(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestStatusEndpoints(t *testing.T) {
	report := &types.CycleReport{Results: []types.StepResult{{Epic: "AAPL"}}}
	s := newTestServer(t, Config{Mode: "DRY_RUN", Environment: "DEMO", Reports: staticReports{report}})

	rec, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DRY_RUN", body["mode"])
	assert.Equal(t, "ACTIVE", body["session"].(map[string]any)["state"])
	assert.NotNil(t, body["last_cycle"])

	rec, body = do(t, s, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["positions"], 1)

	rec, body = do(t, s, http.MethodGet, "/api/account", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["accounts"], 1)

	rec, _ = do(t, s, http.MethodGet, "/api/sltp", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no table configured")
	rec, _ = do(t, s, http.MethodPut, "/api/sltp/AAPL", `{"stop_loss_percent":0.02,"take_profit_percent":0.04}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no table to edit")
	rec, _ = do(t, s, http.MethodGet, "/api/trades", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no journal configured")
}

func TestPositionsBrokerFailure(t *testing.T) {
	s := newTestServer(t, Config{Broker: stubBroker{failPositions: true}})
	rec, body := do(t, s, http.MethodGet, "/api/positions", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "no response", body["error"])
}

func TestLevelsAndJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer j.Close()
	levels, err := sltp.NewManager(filepath.Join(dir, "sltp.yaml"), sltp.WithRecorder(j))
	require.NoError(t, err)

	s := newTestServer(t, Config{Levels: levels, Journal: j})

	rec, _ := do(t, s, http.MethodPut, "/api/sltp/AAPL", `{"stop_loss_percent":0.02,"take_profit_percent":0.04}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sltp.Params{StopLossPercent: 0.02, TakeProfitPercent: 0.04}, levels.Params("AAPL"))

	rec, _ = do(t, s, http.MethodPut, "/api/sltp/AAPL", `{"stop_loss_percent":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, s, http.MethodPut, "/api/sltp/AAPL", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, s, http.MethodGet, "/api/sltp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "AAPL")

	changes, err := j.LevelChanges(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "api", changes[0].Source)

	require.NoError(t, j.RecordTrade(context.Background(), types.TradeRecord{Epic: "AAPL", Action: types.TradeOpen, Time: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, j.RecordTrade(context.Background(), types.TradeRecord{Epic: "AAPL", Action: types.TradeClose}))

	rec, body = do(t, s, http.MethodGet, "/api/trades?since=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["trades"], 1)

	rec, _ = do(t, s, http.MethodGet, "/api/trades?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, s, http.MethodGet, "/api/equity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["equity"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RPS: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestIPLimiterDropsIdleVisitors(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.get("10.0.0.1")
	now = now.Add(5 * time.Minute)
	l.get("10.0.0.2")
	assert.Len(t, l.visitors, 1)
}
