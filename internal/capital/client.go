package capital

import (
	"context"
	"net/http"
	"strings"
	"time"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/types"
)

const (
	DemoBaseURL = "https://demo-api-capital.backend-capital.com"
	LiveBaseURL = "https://api-capital.backend-capital.com"

	DefaultMaxRequestsPerSecond = 10
	DefaultRetryAttempts        = 3
	DefaultRequestTimeout       = 5 * time.Second
	DefaultSessionTimeout       = 60 * time.Minute
	DefaultRetryAfter           = 60 * time.Second
	DefaultBackoffInitial       = 1 * time.Second
	DefaultBackoffMax           = 5 * time.Second
	DefaultAccountCurrency      = "CHF"
)

// Config is everything the client needs; it is built once by the caller.
type Config struct {
	APIKey     string
	Identifier string
	Password   string
	Demo       bool
	// BaseURL overrides the demo/live selection when set.
	BaseURL string

	MaxRequestsPerSecond int
	RetryAttempts        int
	RequestTimeout       time.Duration
	SessionTimeout       time.Duration
	DefaultRetryAfter    time.Duration
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	// AccountCurrency selects the account whose available balance funds trades.
	AccountCurrency string
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultMaxRequestsPerSecond
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = DefaultRetryAfter
	}
	if cfg.AccountCurrency == "" {
		cfg.AccountCurrency = DefaultAccountCurrency
	}
	if cfg.BackoffInitial < 0 {
		cfg.BackoffInitial = 0
	} else if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = DefaultBackoffMax
		if cfg.BackoffMax < cfg.BackoffInitial {
			cfg.BackoffMax = cfg.BackoffInitial
		}
	}
}

// Client talks to the Capital.com REST API. It owns one broker session.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	clock      Clock
	log        logger.Logger
	limiter    *RateLimiter
	session    *sessionManager
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests use stub transports)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock replaces the time source
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger injects the structured logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client. It does not log in; call StartSession or EnsureSession.
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		clock:      realClock{},
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case cfg.BaseURL != "":
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Demo:
		c.baseURL = DemoBaseURL
	default:
		c.baseURL = LiveBaseURL
	}

	c.limiter = NewRateLimiter(cfg.MaxRequestsPerSecond, c.clock)
	c.session = newSessionManager(c.clock, cfg.SessionTimeout, c.log, c.authenticate)
	return c
}

// BaseURL returns the host the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// StartSession logs in unless a login is already running, in which case it
// waits for that one.
func (c *Client) StartSession(ctx context.Context) error {
	return c.session.start(ctx)
}

// EnsureSession starts a session when there is no valid one.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.session.isValid() {
		return nil
	}
	return c.session.start(ctx)
}

// IsSessionValid reports whether a session was started less than the timeout ago.
func (c *Client) IsSessionValid() bool {
	return c.session.isValid()
}

// SessionInfo describes the session state for status pages.
func (c *Client) SessionInfo() types.SessionInfo {
	return c.session.info()
}

// requireSession is the fail-fast guard of every domain operation.
func (c *Client) requireSession(ctx context.Context, op string) bool {
	if c.session.hasTokens() {
		return true
	}
	c.log.Warn(ctx, "Not authenticated, operation skipped", "operation", op)
	return false
}
