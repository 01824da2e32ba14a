// Package status serves a read-only view of the bot over HTTP.
package status

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/sltp"
	"capital-trading-bot/internal/types"
)

// ReportSource exposes the latest engine cycle.
type ReportSource interface {
	LastReport() *types.CycleReport
}

// LevelStore is the SL/TP table the API reads and edits.
type LevelStore interface {
	All() map[string]sltp.Params
	Update(ctx context.Context, epic string, p sltp.Params, source string) error
}

type Config struct {
	Addr        string
	Mode        string
	Environment string
	RPS         float64
	Burst       int

	Broker  interfaces.Broker
	Reports ReportSource
	Levels  LevelStore
	Journal interfaces.Journal
}

type Server struct {
	addr    string
	router  *gin.Engine
	cfg     Config
	started time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Broker == nil {
		return nil, errors.New("status server requires a broker")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8088"
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), newIPLimiter(cfg.RPS, cfg.Burst).middleware())

	s := &Server{addr: cfg.Addr, router: router, cfg: cfg, started: time.Now()}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/account", s.handleAccount)
	api.GET("/sltp", s.handleLevels)
	api.PUT("/sltp/:epic", s.handleUpdateLevels)
	api.GET("/trades", s.handleTrades)
	api.GET("/equity", s.handleEquity)
	return s, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) Addr() string { return s.addr }

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info(ctx, "Status API listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	body := gin.H{
		"mode":        s.cfg.Mode,
		"environment": s.cfg.Environment,
		"session":     s.cfg.Broker.SessionInfo(),
		"uptime_s":    int64(time.Since(s.started).Seconds()),
	}
	if s.cfg.Reports != nil {
		if r := s.cfg.Reports.LastReport(); r != nil {
			body["last_cycle"] = r
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.cfg.Broker.Positions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleAccount(c *gin.Context) {
	accounts, err := s.cfg.Broker.AccountInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) handleLevels(c *gin.Context) {
	if s.cfg.Levels == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sl/tp table not configured"})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Levels.All())
}

func (s *Server) handleUpdateLevels(c *gin.Context) {
	if s.cfg.Levels == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sl/tp table not configured"})
		return
	}
	var p sltp.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	epic := strings.TrimSpace(c.Param("epic"))
	if err := s.cfg.Levels.Update(c.Request.Context(), epic, p, "api"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"epic": epic, "params": p})
}

// sinceParam reads ?since= as RFC3339 or as a duration back from now.
func sinceParam(c *gin.Context) (time.Time, error) {
	v := c.Query("since")
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return time.Now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal not configured"})
		return
	}
	since, err := sinceParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339 or a duration"})
		return
	}
	trades, err := s.cfg.Journal.Trades(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleEquity(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal not configured"})
		return
	}
	since, err := sinceParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339 or a duration"})
		return
	}
	snaps, err := s.cfg.Journal.Equity(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": snaps})
}
