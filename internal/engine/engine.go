package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/news"
	"capital-trading-bot/internal/store"
	"capital-trading-bot/internal/ta"
	"capital-trading-bot/internal/tradelog"
	"capital-trading-bot/internal/types"
)

var ErrInsufficientHistory = errors.New("not enough price history")

// Deps are the collaborators of the engine. Broker and Decider are
// required; the rest are optional.
type Deps struct {
	Broker    interfaces.Broker
	Decider   interfaces.Decider
	Exit      interfaces.ExitRule
	Levels    LevelSource
	Sentiment interfaces.SentimentSource
	Journal   interfaces.Journal
	TradeLog  *tradelog.Log
}

type Engine struct {
	cfg       *store.Config
	brk       interfaces.Broker
	decider   interfaces.Decider
	exit      interfaces.ExitRule
	sentiment interfaces.SentimentSource
	journal   interfaces.Journal
	params    ta.Params

	positions *positionManager
	orders    *orderExecutor
	risk      *riskManager
	stops     *stopManager

	now  func() time.Time
	last atomic.Pointer[types.CycleReport]
}

var _ interfaces.Engine = (*Engine)(nil)

func newEngine(cfg *store.Config, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		brk:       deps.Broker,
		decider:   deps.Decider,
		exit:      deps.Exit,
		sentiment: deps.Sentiment,
		journal:   deps.Journal,
		params:    indicatorParams(cfg),
		positions: newPositionManager(),
		orders:    newOrderExecutor(deps.Broker, deps.Journal, deps.TradeLog, cfg.DryRun()),
		risk:      newRiskManager(cfg.Engine.MaxOpenPositions, cfg.Decider.MinConfidence),
		stops:     newStopManager(deps.Levels),
		now:       time.Now,
	}
}

// LastReport returns the most recent cycle report, nil before the first cycle.
func (e *Engine) LastReport() *types.CycleReport { return e.last.Load() }

// Step analyses one epic and opens a position when the decider asks for one.
func (e *Engine) Step(ctx context.Context, epic string) (*types.StepResult, error) {
	if !e.positions.isLoaded() {
		if err := e.refreshPositions(ctx); err != nil {
			return nil, err
		}
	}
	return e.step(ctx, epic)
}

func (e *Engine) step(ctx context.Context, epic string) (*types.StepResult, error) {
	logger.Debug(ctx, "Starting trading step", "epic", epic)

	bars, err := e.brk.PriceHistory(ctx, epic, e.cfg.History.Resolution, e.cfg.History.Bars)
	if err != nil {
		return nil, fmt.Errorf("price history for %s: %w", epic, err)
	}
	if len(bars) < e.cfg.History.MinBars || len(bars) == 0 {
		logger.Warn(ctx, "Insufficient price history", "epic", epic, "received", len(bars), "required", e.cfg.History.MinBars)
		return nil, fmt.Errorf("%s: %w (%d < %d)", epic, ErrInsufficientHistory, len(bars), e.cfg.History.MinBars)
	}

	inds := ta.Snapshot(bars, e.params)
	latest := bars[len(bars)-1]
	price := latest.Close

	score := e.sentimentScore(ctx, epic)

	decision, err := e.decider.Decide(ctx, epic, latest, inds, map[string]any{
		"price":     price,
		"sentiment": score,
		"dry_run":   e.cfg.DryRun(),
	})
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", epic, err)
	}
	logger.Decision(ctx, epic, decision.Action, decision.Confidence, decision.Reason, "price", price, "sentiment", score)
	e.orders.logDecision(ctx, epic, decision, price, score, inds)

	res := &types.StepResult{
		Epic:      epic,
		Decision:  decision,
		Price:     price,
		Time:      latest.Time.Unix(),
		Sentiment: score,
		Orders:    []types.DealConfirmation{},
		Reason:    decision.Reason,
	}

	dir, ok := directionFor(decision.Action)
	if !ok || !e.risk.acceptDecision(ctx, epic, decision) {
		return res, nil
	}

	if ok, why := e.positions.reserve(epic, e.risk.maxOpen); !ok {
		logger.Blocked(ctx, epic, "TRADE_BLOCKED_POSITION", why)
		res.Reason += " | skipped: " + why
		return res, nil
	}

	conf, why := e.openPosition(ctx, epic, dir, price, decision)
	if conf == nil {
		e.positions.release(epic)
		res.Reason += " | skipped: " + why
		return res, nil
	}
	e.positions.confirm(epic, conf.DealReference, dir, 0, price, e.now())
	res.Orders = append(res.Orders, *conf)
	return res, nil
}

func (e *Engine) openPosition(ctx context.Context, epic string, dir types.Direction, price float64, d types.Decision) (*types.DealConfirmation, string) {
	size := e.brk.TradeSize(ctx, epic)
	if !e.risk.validSize(ctx, epic, size) {
		return nil, "no tradeable size"
	}
	stop, profit := e.stops.orderLevels(epic, price, dir)
	conf, err := e.orders.open(ctx, types.OrderRequest{
		Epic:        epic,
		Direction:   dir,
		Size:        size,
		StopLevel:   stop,
		ProfitLevel: profit,
	}, price, d)
	if err != nil {
		return nil, "order_err: " + err.Error()
	}
	return conf, ""
}

func (e *Engine) sentimentScore(ctx context.Context, epic string) float64 {
	if e.sentiment == nil {
		return news.Neutral
	}
	score, err := e.sentiment.Score(ctx, epic)
	if err != nil {
		logger.Warn(ctx, "News sentiment unavailable", "epic", epic, "error", err.Error())
		return news.Neutral
	}
	return score
}

func (e *Engine) refreshPositions(ctx context.Context) error {
	list, err := e.brk.Positions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	e.positions.refresh(list)
	return nil
}

// ManagePositions closes profitable positions the exit rule flags.
func (e *Engine) ManagePositions(ctx context.Context) ([]types.DealConfirmation, error) {
	list, err := e.brk.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	e.positions.refresh(list)

	closed := []types.DealConfirmation{}
	if e.exit == nil {
		return closed, nil
	}
	for _, pos := range list {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		bars, err := e.brk.PriceHistory(ctx, pos.Epic, e.cfg.History.Resolution, e.cfg.History.Bars)
		if err != nil || len(bars) == 0 {
			logger.Warn(ctx, "No price history for open position", "epic", pos.Epic, "deal_id", pos.DealID)
			continue
		}
		inds := ta.Snapshot(bars, e.params)
		shouldClose, reason := e.exit.ShouldClose(pos, inds)
		if !shouldClose {
			continue
		}
		conf, err := e.orders.close(ctx, pos, reason)
		if err != nil {
			continue
		}
		e.positions.close(pos.Epic)
		closed = append(closed, *conf)
	}
	return closed, nil
}

// Cycle runs one pass: open new positions across the universe, manage open
// ones and record an equity snapshot. Per-epic failures are collected in
// the report and do not abort the cycle.
func (e *Engine) Cycle(ctx context.Context) (*types.CycleReport, error) {
	report := &types.CycleReport{Started: e.now()}

	if err := e.brk.EnsureSession(ctx); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	epics, err := e.universe(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.refreshPositions(ctx); err != nil {
		return nil, err
	}

	results := make([]*types.StepResult, len(epics))
	var (
		mu   sync.Mutex
		errs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Engine.Concurrency)
	for i, epic := range epics {
		i, epic := i, epic
		g.Go(func() error {
			res, err := e.step(gctx, epic)
			if err != nil {
				mu.Lock()
				errs = append(errs, err.Error())
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range results {
		if r != nil {
			report.Results = append(report.Results, *r)
		}
	}
	report.Errors = errs

	if e.cfg.Engine.ManagePositions {
		closed, err := e.ManagePositions(ctx)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		report.Closed = closed
	}

	if snap, err := e.recordEquity(ctx); err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Equity = snap
	}

	report.Finished = e.now()
	e.last.Store(report)
	return report, nil
}

// universe returns the configured epics, or the broker's market list capped
// at universe.max when from_broker is set.
func (e *Engine) universe(ctx context.Context) ([]string, error) {
	if !e.cfg.Universe.FromBroker {
		return dedupe(e.cfg.Universe.Static), nil
	}
	epics, err := e.brk.AllMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	epics = dedupe(append(append([]string{}, e.cfg.Universe.Static...), epics...))
	if limit := e.cfg.Universe.Max; limit > 0 && len(epics) > limit {
		epics = epics[:limit]
	}
	return epics, nil
}

func (e *Engine) recordEquity(ctx context.Context) (*types.EquitySnapshot, error) {
	accounts, err := e.brk.AccountInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("account info: %w", err)
	}
	currency := e.cfg.Capital.AccountCurrency
	var acct *types.Account
	for i := range accounts {
		if strings.EqualFold(accounts[i].Currency, currency) {
			acct = &accounts[i]
			break
		}
	}
	if acct == nil {
		return nil, fmt.Errorf("no %s account", currency)
	}
	snap := &types.EquitySnapshot{
		Time:          e.now(),
		Currency:      acct.Currency,
		Balance:       acct.Balance.Balance,
		Available:     acct.Balance.Available,
		UnrealizedPL:  acct.Balance.ProfitLoss,
		OpenPositions: e.positions.count(),
	}
	if e.journal != nil {
		if err := e.journal.RecordEquity(ctx, *snap); err != nil {
			logger.ErrorWithErr(ctx, "Failed to journal equity", err)
		}
	}
	return snap, nil
}
