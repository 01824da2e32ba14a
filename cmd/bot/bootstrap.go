package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/capital/capitalobs"
	"capital-trading-bot/internal/engine"
	"capital-trading-bot/internal/engine/engineobs"
	"capital-trading-bot/internal/eod"
	"capital-trading-bot/internal/eod/eodobs"
	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/journal"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/news"
	"capital-trading-bot/internal/sltp"
	"capital-trading-bot/internal/status"
	"capital-trading-bot/internal/store"
	"capital-trading-bot/internal/trace"
	"capital-trading-bot/internal/tradelog"
)

// initializeSystem loads .env and sets up logging and tracing
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func configPath() string {
	if v := os.Getenv("BOT_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig(configPath())
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath())
		return nil, err
	}
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		return nil, fmt.Errorf("missing credentials: %v", missing)
	}
	return cfg, nil
}

// initializeBroker builds the Capital.com client wrapped for observability.
func initializeBroker(ctx context.Context, cfg *store.Config) interfaces.Broker {
	client := capital.New(cfg.ClientConfig())
	if cfg.DryRun() {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}
	logger.Info(ctx, "Broker client ready", "environment", cfg.Environment, "base_url", client.BaseURL())
	return capitalobs.Wrap(client)
}

// components holds everything main needs to run and shut down.
type components struct {
	broker  interfaces.Broker
	engine  *engine.Engine
	cycle   interfaces.Engine
	journal *journal.Store
	levels  *sltp.Manager
	tlog    *tradelog.Log
	eod     interfaces.EodSummarizer
	status  *status.Server
}

func (c *components) Close() {
	if c.journal != nil {
		_ = c.journal.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *store.Config) (*components, error) {
	c := &components{broker: initializeBroker(ctx, cfg)}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	c.journal = j

	levels, err := sltp.NewManager(cfg.SLTP.Path, sltp.WithRecorder(j))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load sl/tp table: %w", err)
	}
	c.levels = levels

	c.tlog = tradelog.New(cfg.TradeLog.Dir)
	c.eod = eodobs.Wrap(eod.NewSummarizer(c.tlog))

	deps := engine.Deps{
		Broker:   c.broker,
		Levels:   levels,
		Journal:  j,
		TradeLog: c.tlog,
	}
	deps.Decider, deps.Exit = engine.NewDecider(cfg)
	if cfg.News.Enabled {
		deps.Sentiment = news.NewService(news.ConfigFromStore(cfg))
	}
	c.engine = engine.New(cfg, deps)
	c.cycle = engineobs.Wrap(c.engine)

	if cfg.Status.Enabled {
		srv, err := status.NewServer(status.Config{
			Addr:        cfg.Status.Addr,
			Mode:        cfg.Mode,
			Environment: cfg.Environment,
			RPS:         cfg.Status.RPS,
			Burst:       cfg.Status.Burst,
			Broker:      c.broker,
			Reports:     c.engine,
			Levels:      levels,
			Journal:     j,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.status = srv
	}
	return c, nil
}
