package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/store"
	"capital-trading-bot/internal/types"
)

// brokerFactory builds an authenticated broker from the loaded config.
type brokerFactory func(ctx context.Context, cfg *store.Config) (interfaces.Broker, error)

func openBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		return nil, fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	client := capital.New(cfg.ClientConfig())
	if err := client.EnsureSession(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

type cli struct {
	configPath string
	open       brokerFactory
	cfg        *store.Config
	broker     interfaces.Broker
}

func newRootCmd(open brokerFactory) *cobra.Command {
	c := &cli{open: open}

	rootCmd := &cobra.Command{
		Use:          "capctl",
		Short:        "One-shot Capital.com broker calls",
		Long:         `capctl runs a single broker operation with the bot's configuration and prints the result as JSON.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := store.LoadConfig(c.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			c.cfg = cfg
			b, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to broker: %w", err)
			}
			c.broker = b
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "Configuration file path")

	rootCmd.AddCommand(
		c.sessionCmd(),
		c.accountCmd(),
		c.marketsCmd(),
		c.marketCmd(),
		c.pricesCmd(),
		c.positionsCmd(),
		c.sizeCmd(),
		c.orderCmd(),
		c.closeCmd(),
	)
	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the current session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), c.broker.SessionInfo())
		},
	}
}

func (c *cli) accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "List accounts and the available capital",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			accounts, err := c.broker.AccountInfo(ctx)
			if err != nil {
				return err
			}
			available, err := c.broker.AvailableCapital(ctx, c.cfg.Capital.AccountCurrency)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"accounts":  accounts,
				"currency":  c.cfg.Capital.AccountCurrency,
				"available": available,
			})
		},
	}
}

func (c *cli) marketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "markets",
		Short: "List tradeable epics",
		RunE: func(cmd *cobra.Command, args []string) error {
			epics, err := c.broker.AllMarkets(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), epics)
		},
	}
}

func (c *cli) marketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "market EPIC",
		Short: "Show instrument details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := c.broker.MarketInfo(cmd.Context(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func (c *cli) pricesCmd() *cobra.Command {
	var (
		resolution string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "prices EPIC",
		Short: "Fetch recent price bars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resolution == "" {
				resolution = c.cfg.History.Resolution
			}
			bars, err := c.broker.PriceHistory(cmd.Context(), strings.ToUpper(args[0]), resolution, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bars)
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "Bar resolution (defaults to history.resolution)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of bars")
	return cmd
}

func (c *cli) positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := c.broker.Positions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), positions)
		},
	}
}

func (c *cli) sizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size EPIC",
		Short: "Compute the trade size the bot would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epic := strings.ToUpper(args[0])
			size := c.broker.TradeSize(cmd.Context(), epic)
			return printJSON(cmd.OutOrStdout(), map[string]any{"epic": epic, "size": size.String()})
		},
	}
}

func (c *cli) orderCmd() *cobra.Command {
	var (
		size   string
		stop   float64
		profit float64
	)
	cmd := &cobra.Command{
		Use:   "order EPIC BUY|SELL",
		Short: "Place a market order",
		Long: `Place a market order. Without --size the bot's sizing rule is used.
Orders are refused while mode is DRY_RUN.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.DryRun() {
				return fmt.Errorf("refusing to place an order in %s mode", c.cfg.Mode)
			}
			req := types.OrderRequest{
				Epic:      strings.ToUpper(args[0]),
				Direction: types.Direction(strings.ToUpper(args[1])),
			}
			if !req.Direction.Valid() {
				return fmt.Errorf("invalid direction '%s': must be BUY or SELL", args[1])
			}
			if size != "" {
				d, err := decimal.NewFromString(size)
				if err != nil {
					return fmt.Errorf("invalid size '%s': %w", size, err)
				}
				req.Size = d
			} else {
				req.Size = c.broker.TradeSize(cmd.Context(), req.Epic)
			}
			if !req.Size.IsPositive() {
				return fmt.Errorf("no tradeable size for %s", req.Epic)
			}
			if stop > 0 {
				req.StopLevel = &stop
			}
			if profit > 0 {
				req.ProfitLevel = &profit
			}

			conf, err := c.broker.PlaceOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), conf)
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "Order size (defaults to the computed trade size)")
	cmd.Flags().Float64Var(&stop, "stop", 0, "Stop-loss level")
	cmd.Flags().Float64Var(&profit, "profit", 0, "Take-profit level")
	return cmd
}

func (c *cli) closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close DEAL_ID",
		Short: "Close an open position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.DryRun() {
				return fmt.Errorf("refusing to close a position in %s mode", c.cfg.Mode)
			}
			conf, err := c.broker.ClosePosition(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), conf)
		},
	}
}
