package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/store"
	"capital-trading-bot/internal/trace"
	"capital-trading-bot/internal/tradelog"
)

func main() {
	if err := initializeSystem(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = trace.Shutdown(context.Background()) }()

	if err := run(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Bot stopped with error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "Bot stopped")
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	c, err := initializeComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	compressOldLogs(ctx, c.tlog, cfg.TradeLog.RetentionDays)

	if err := c.broker.EnsureSession(ctx); err != nil {
		return fmt.Errorf("initial login: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.SLTP.Watch {
		if err := c.levels.Watch(gctx); err != nil {
			logger.Warn(ctx, "SL/TP hot reload disabled", "error", err.Error())
		}
	}
	if c.status != nil {
		g.Go(func() error { return c.status.Start(gctx) })
	}
	g.Go(func() error { return tradingLoop(gctx, cfg, c) })

	logger.Info(ctx, "Bot started", "mode", cfg.Mode, "environment", cfg.Environment, "poll_seconds", cfg.PollSeconds)
	return g.Wait()
}

// tradingLoop runs one cycle immediately and then every poll interval until
// ctx is cancelled.
func tradingLoop(ctx context.Context, cfg *store.Config, c *components) error {
	tick := time.NewTicker(time.Duration(cfg.PollSeconds) * time.Second)
	defer tick.Stop()
	daily := time.NewTicker(24 * time.Hour)
	defer daily.Stop()
	eodTick := time.NewTicker(60 * time.Second)
	defer eodTick.Stop()

	runCycle(ctx, c)
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Shutting down trading loop")
			return nil
		case <-daily.C:
			compressOldLogs(ctx, c.tlog, cfg.TradeLog.RetentionDays)
		case <-eodTick.C:
			if ok, _ := c.eod.ShouldRunNow(); ok {
				_, _ = c.eod.SummarizePreviousDay()
			}
		case <-tick.C:
			runCycle(ctx, c)
		}
	}
}

func runCycle(ctx context.Context, c *components) {
	report, err := c.cycle.Cycle(ctx)
	if err != nil {
		return
	}
	if b, err := json.Marshal(report); err == nil {
		logger.Debug(ctx, "Cycle report", "report", string(b))
	}
}

func compressOldLogs(ctx context.Context, l *tradelog.Log, days int) {
	if err := l.CompressOlder(days); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err.Error())
	}
}
