package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"capital-trading-bot/internal/capital"
)

const (
	ModeDryRun = "DRY_RUN"
	ModeLive   = "LIVE"

	EnvDemo = "DEMO"
	EnvLive = "LIVE"
)

type Config struct {
	Mode        string `yaml:"mode"`
	Environment string `yaml:"environment"`
	PollSeconds int    `yaml:"poll_seconds"`
	Universe    struct {
		Static     []string `yaml:"static"`
		FromBroker bool     `yaml:"from_broker"`
		Max        int      `yaml:"max"`
	} `yaml:"universe"`
	Capital struct {
		BaseURL               string  `yaml:"base_url"`
		MaxRequestsPerSecond  int     `yaml:"max_requests_per_second"`
		RetryAttempts         int     `yaml:"retry_attempts"`
		RequestTimeoutSeconds float64 `yaml:"request_timeout_seconds"`
		SessionTimeoutMinutes int     `yaml:"session_timeout_minutes"`
		AccountCurrency       string  `yaml:"account_currency"`
		APIKeyEnv             string  `yaml:"api_key_env"`
		IdentifierEnv         string  `yaml:"identifier_env"`
		PasswordEnv           string  `yaml:"password_env"`
	} `yaml:"capital"`
	History struct {
		Resolution string `yaml:"resolution"`
		Bars       int    `yaml:"bars"`
		MinBars    int    `yaml:"min_bars"`
	} `yaml:"history"`
	Indicators struct {
		SMAWindows []int `yaml:"sma_windows"`
		RSIPeriod  int   `yaml:"rsi_period"`
		MACDFast   int   `yaml:"macd_fast"`
		MACDSlow   int   `yaml:"macd_slow"`
		MACDSignal int   `yaml:"macd_signal"`
	} `yaml:"indicators"`
	Decider struct {
		Kind          string  `yaml:"kind"`
		RSIOversold   float64 `yaml:"rsi_oversold"`
		RSIOverbought float64 `yaml:"rsi_overbought"`
		MinConfidence float64 `yaml:"min_confidence"`
		ExitRSIHigh   float64 `yaml:"exit_rsi_high"`
		ExitRSILow    float64 `yaml:"exit_rsi_low"`
		ExitMACDRatio float64 `yaml:"exit_macd_ratio"`
	} `yaml:"decider"`
	SLTP struct {
		Path  string `yaml:"path"`
		Watch bool   `yaml:"watch"`
	} `yaml:"sltp"`
	News struct {
		Enabled        bool     `yaml:"enabled"`
		Sources        []string `yaml:"sources"`
		MaxHeadlines   int      `yaml:"max_headlines"`
		CacheMinutes   int      `yaml:"cache_minutes"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"news"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	TradeLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"tradelog"`
	Status struct {
		Enabled bool    `yaml:"enabled"`
		Addr    string  `yaml:"addr"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"status"`
	Engine struct {
		Concurrency      int  `yaml:"concurrency"`
		MaxOpenPositions int  `yaml:"max_open_positions"`
		ManagePositions  bool `yaml:"manage_positions"`
	} `yaml:"engine"`
}

// DryRun reports whether orders are simulated instead of sent.
func (c *Config) DryRun() bool { return c.Mode != ModeLive }

func (c *Config) Validate() error {
	if c.Mode != ModeDryRun && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Environment != EnvDemo && c.Environment != EnvLive {
		return fmt.Errorf("invalid environment '%s': must be 'DEMO' or 'LIVE'", c.Environment)
	}
	if len(c.Universe.Static) == 0 && !c.Universe.FromBroker {
		return errors.New("universe.static cannot be empty unless universe.from_broker is set")
	}
	if c.History.Bars <= 0 {
		return fmt.Errorf("history.bars must be positive, got %d", c.History.Bars)
	}
	if c.History.MinBars > c.History.Bars {
		return fmt.Errorf("history.min_bars (%d) exceeds history.bars (%d)", c.History.MinBars, c.History.Bars)
	}
	if c.Indicators.MACDFast >= c.Indicators.MACDSlow {
		return fmt.Errorf("indicators.macd_fast (%d) must be below macd_slow (%d)", c.Indicators.MACDFast, c.Indicators.MACDSlow)
	}
	if c.Decider.Kind != "rules" && c.Decider.Kind != "noop" {
		return fmt.Errorf("decider.kind must be 'rules' or 'noop', got '%s'", c.Decider.Kind)
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be positive, got %d", c.Engine.Concurrency)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDryRun
	}
	c.Mode = strings.ToUpper(c.Mode)
	if c.Environment == "" {
		c.Environment = EnvDemo
	}
	c.Environment = strings.ToUpper(c.Environment)
	if c.PollSeconds == 0 {
		c.PollSeconds = 60
	}

	if c.Capital.AccountCurrency == "" {
		c.Capital.AccountCurrency = capital.DefaultAccountCurrency
	}
	if c.Capital.APIKeyEnv == "" {
		c.Capital.APIKeyEnv = "CAPITAL_API_KEY"
	}
	if c.Capital.IdentifierEnv == "" {
		c.Capital.IdentifierEnv = "CAPITAL_IDENTIFIER"
	}
	if c.Capital.PasswordEnv == "" {
		c.Capital.PasswordEnv = "CAPITAL_PASSWORD"
	}

	if c.History.Resolution == "" {
		c.History.Resolution = "MINUTE"
	}
	if c.History.Bars == 0 {
		c.History.Bars = 100
	}
	if c.History.MinBars == 0 {
		c.History.MinBars = 35
	}

	if len(c.Indicators.SMAWindows) == 0 {
		c.Indicators.SMAWindows = []int{20, 50}
	}
	if c.Indicators.RSIPeriod == 0 {
		c.Indicators.RSIPeriod = 14
	}
	if c.Indicators.MACDFast == 0 {
		c.Indicators.MACDFast = 12
	}
	if c.Indicators.MACDSlow == 0 {
		c.Indicators.MACDSlow = 26
	}
	if c.Indicators.MACDSignal == 0 {
		c.Indicators.MACDSignal = 9
	}

	if c.Decider.Kind == "" {
		c.Decider.Kind = "rules"
	}
	if c.Decider.RSIOversold == 0 {
		c.Decider.RSIOversold = 30
	}
	if c.Decider.RSIOverbought == 0 {
		c.Decider.RSIOverbought = 70
	}
	if c.Decider.MinConfidence == 0 {
		c.Decider.MinConfidence = 0.6
	}
	if c.Decider.ExitRSIHigh == 0 {
		c.Decider.ExitRSIHigh = 80
	}
	if c.Decider.ExitRSILow == 0 {
		c.Decider.ExitRSILow = 20
	}
	if c.Decider.ExitMACDRatio == 0 {
		c.Decider.ExitMACDRatio = 0.8
	}

	if c.SLTP.Path == "" {
		c.SLTP.Path = "sltp.yaml"
	}
	if c.News.MaxHeadlines == 0 {
		c.News.MaxHeadlines = 20
	}
	if c.News.CacheMinutes == 0 {
		c.News.CacheMinutes = 30
	}
	if c.News.TimeoutSeconds == 0 {
		c.News.TimeoutSeconds = 15
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.db"
	}
	if c.TradeLog.Dir == "" {
		c.TradeLog.Dir = "logs"
	}
	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:8088"
	}
	if c.Status.RPS == 0 {
		c.Status.RPS = 5
	}
	if c.Status.Burst == 0 {
		c.Status.Burst = 10
	}
	if c.Engine.Concurrency == 0 {
		c.Engine.Concurrency = 2
	}
}

// ClientConfig builds the broker client configuration, reading credentials
// from the environment variables named in the capital section.
func (c *Config) ClientConfig() capital.Config {
	cc := capital.Config{
		APIKey:               os.Getenv(c.Capital.APIKeyEnv),
		Identifier:           os.Getenv(c.Capital.IdentifierEnv),
		Password:             os.Getenv(c.Capital.PasswordEnv),
		Demo:                 c.Environment != EnvLive,
		BaseURL:              c.Capital.BaseURL,
		MaxRequestsPerSecond: c.Capital.MaxRequestsPerSecond,
		RetryAttempts:        c.Capital.RetryAttempts,
		AccountCurrency:      c.Capital.AccountCurrency,
	}
	if c.Capital.RequestTimeoutSeconds > 0 {
		cc.RequestTimeout = time.Duration(c.Capital.RequestTimeoutSeconds * float64(time.Second))
	}
	if c.Capital.SessionTimeoutMinutes > 0 {
		cc.SessionTimeout = time.Duration(c.Capital.SessionTimeoutMinutes) * time.Minute
	}
	return cc
}

// MissingCredentials lists the credential variables that are unset.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for _, name := range []string{c.Capital.APIKeyEnv, c.Capital.IdentifierEnv, c.Capital.PasswordEnv} {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
