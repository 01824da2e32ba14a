package news

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/store"
)

// Sentiment is the cached result for one query.
type Sentiment struct {
	Query     string     `json:"query"`
	Score     float64    `json:"score"`
	Label     string     `json:"label"`
	Headlines []Headline `json:"headlines"`
	Timestamp int64      `json:"timestamp"`
}

// ServiceConfig configures the news sentiment service
type ServiceConfig struct {
	MaxHeadlines   int
	CacheDuration  time.Duration
	ScraperTimeout time.Duration
	Enabled        bool
	Sources        []Source
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxHeadlines:   20,
		CacheDuration:  30 * time.Minute,
		ScraperTimeout: 15 * time.Second,
		Enabled:        true,
	}
}

// ConfigFromStore maps the news section of the bot configuration.
func ConfigFromStore(cfg *store.Config) *ServiceConfig {
	sc := &ServiceConfig{
		MaxHeadlines:   cfg.News.MaxHeadlines,
		CacheDuration:  time.Duration(cfg.News.CacheMinutes) * time.Minute,
		ScraperTimeout: time.Duration(cfg.News.TimeoutSeconds) * time.Second,
		Enabled:        cfg.News.Enabled && len(cfg.News.Sources) > 0,
	}
	for _, u := range cfg.News.Sources {
		sc.Sources = append(sc.Sources, SourceFromURL(u))
	}
	return sc
}

type sentimentCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry struct {
	sentiment Sentiment
	timestamp time.Time
}

func newSentimentCache(ttl time.Duration) *sentimentCache {
	return &sentimentCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *sentimentCache) get(key string) (Sentiment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || c.now().Sub(entry.timestamp) > c.ttl {
		return Sentiment{}, false
	}
	return entry.sentiment, true
}

func (c *sentimentCache) set(key string, s Sentiment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{sentiment: s, timestamp: c.now()}
}

// cleanup drops expired entries. It runs on every refresh so the map stays
// bounded by the active universe.
func (c *sentimentCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.data {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.data, key)
		}
	}
}

func (c *sentimentCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry)
}

func (c *sentimentCache) keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Service scores news headlines per query and caches the result.
type Service struct {
	scraper *Scraper
	cache   *sentimentCache
	cfg     *ServiceConfig
}

func NewService(cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	return &Service{
		scraper: NewScraper(cfg.Sources, cfg.ScraperTimeout),
		cache:   newSentimentCache(cfg.CacheDuration),
		cfg:     cfg,
	}
}

func cacheKey(query string) string {
	return strings.ToUpper(strings.TrimSpace(query))
}

// Score returns the keyword score for query. Disabled services and queries
// without headlines score Neutral.
func (s *Service) Score(ctx context.Context, query string) (float64, error) {
	sent, err := s.GetSentiment(ctx, query)
	if err != nil {
		return Neutral, err
	}
	return sent.Score, nil
}

// GetSentiment returns the cached sentiment or refreshes it.
func (s *Service) GetSentiment(ctx context.Context, query string) (Sentiment, error) {
	if !s.cfg.Enabled {
		return Sentiment{Query: query, Score: Neutral, Label: Label(Neutral), Timestamp: time.Now().Unix()}, nil
	}
	if cached, ok := s.cache.get(cacheKey(query)); ok {
		logger.Debug(ctx, "Using cached news sentiment", "query", query, "score", cached.Score)
		return cached, nil
	}
	return s.RefreshSentiment(ctx, query)
}

// RefreshSentiment scrapes and scores query, bypassing the cache.
func (s *Service) RefreshSentiment(ctx context.Context, query string) (Sentiment, error) {
	headlines, err := s.scraper.Scrape(ctx, query, s.cfg.MaxHeadlines)
	if err != nil {
		return Sentiment{}, err
	}

	texts := make([]string, 0, len(headlines))
	for _, h := range headlines {
		texts = append(texts, h.Title)
	}
	score := ScoreTexts(texts)
	sent := Sentiment{
		Query:     query,
		Score:     score,
		Label:     Label(score),
		Headlines: headlines,
		Timestamp: time.Now().Unix(),
	}

	s.cache.cleanup()
	s.cache.set(cacheKey(query), sent)
	logger.Info(ctx, "News sentiment refreshed", "query", query, "score", score, "label", sent.Label, "headlines", len(headlines))
	return sent, nil
}

func (s *Service) ClearCache() { s.cache.clear() }

// CachedQueries lists the cache keys, expired entries included until the
// next refresh.
func (s *Service) CachedQueries() []string { return s.cache.keys() }
