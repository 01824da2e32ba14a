package news

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"capital-trading-bot/internal/logger"
)

const (
	defaultItemSelector  = "article, li.news-item, div.story"
	defaultTitleSelector = "h3, h2, h4, a"
	defaultLinkSelector  = "a"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Headline is one scraped news item.
type Headline struct {
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source"`
}

// Source describes a search page. URL may contain {query}, which is
// replaced by the escaped search term.
type Source struct {
	Name  string
	URL   string
	Item  string
	Title string
	Link  string
}

// SourceFromURL builds a source with the generic selectors.
func SourceFromURL(tmpl string) Source {
	return Source{Name: getDomain(tmpl), URL: tmpl}
}

func (s Source) withDefaults() Source {
	if s.Item == "" {
		s.Item = defaultItemSelector
	}
	if s.Title == "" {
		s.Title = defaultTitleSelector
	}
	if s.Link == "" {
		s.Link = defaultLinkSelector
	}
	if s.Name == "" {
		s.Name = getDomain(s.URL)
	}
	return s
}

func (s Source) searchURL(query string) string {
	return strings.ReplaceAll(s.URL, "{query}", url.QueryEscape(query))
}

// Scraper collects headlines from a fixed list of sources.
type Scraper struct {
	sources []Source
	timeout time.Duration
}

func NewScraper(sources []Source, timeout time.Duration) *Scraper {
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.withDefaults())
	}
	return &Scraper{sources: out, timeout: timeout}
}

// Scrape fetches up to limit headlines for query across all sources. A source
// that fails is logged and skipped; an error is returned only when every
// source failed.
func (s *Scraper) Scrape(ctx context.Context, query string, limit int) ([]Headline, error) {
	if len(s.sources) == 0 {
		return nil, errors.New("no news sources configured")
	}
	logger.Debug(ctx, "Starting news scraping", "query", query, "sources", len(s.sources))

	perSource := limit / len(s.sources)
	if perSource < 1 {
		perSource = 1
	}

	var (
		all     []Headline
		lastErr error
		failed  int
	)
	for _, source := range s.sources {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		items, err := s.scrapeSource(ctx, source, query, perSource)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to scrape source", err, "source", source.Name, "query", query)
			lastErr = err
			failed++
			continue
		}
		all = append(all, items...)
	}
	if failed == len(s.sources) {
		return nil, fmt.Errorf("all news sources failed: %w", lastErr)
	}

	logger.Debug(ctx, "News scraping completed", "query", query, "headlines", len(all))
	return all, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, source Source, query string, limit int) ([]Headline, error) {
	target := source.searchURL(query)

	c := colly.NewCollector(
		colly.AllowedDomains(getDomain(target)),
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("User-Agent", userAgent)
	})

	var (
		items    []Headline
		parseErr error
	)
	c.OnResponse(func(r *colly.Response) {
		found, err := ParseHeadlines(bytes.NewReader(r.Body), source, r.Request.URL)
		if err != nil {
			parseErr = err
			return
		}
		items = found
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", target, err)
	}
	c.Wait()

	if parseErr != nil {
		return nil, parseErr
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ParseHeadlines extracts headlines from an HTML document. Relative links
// are resolved against base when it is set.
func ParseHeadlines(r io.Reader, source Source, base *url.URL) ([]Headline, error) {
	source = source.withDefaults()
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := map[string]bool{}
	var out []Headline
	doc.Find(source.Item).Each(func(_ int, sel *goquery.Selection) {
		title := strings.Join(strings.Fields(sel.Find(source.Title).First().Text()), " ")
		if title == "" || seen[title] {
			return
		}
		seen[title] = true

		h := Headline{Title: title, Source: source.Name}
		if href, ok := sel.Find(source.Link).First().Attr("href"); ok {
			h.URL = resolveLink(base, href)
		}
		out = append(out, h)
	})
	return out, nil
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func getDomain(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
