// Package tradelog appends one JSON line per trade or decision to daily
// files and gzips files past the retention window.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"capital-trading-bot/internal/types"
)

const (
	dayLayout  = "2006-01-02"
	timeLayout = "2006-01-02 15:04:05"
	fileExt    = ".jsonl"
)

type Entry struct {
	Time          string  `json:"time"`
	Epic          string  `json:"epic"`
	Action        string  `json:"action"`
	Direction     string  `json:"direction"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price"`
	StopLevel     float64 `json:"stopLevel,omitempty"`
	ProfitLevel   float64 `json:"profitLevel,omitempty"`
	DealReference string  `json:"dealReference,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	RealizedPL    float64 `json:"realizedPL,omitempty"`
	Simulated     bool    `json:"simulated"`
}

// EntryFromTrade flattens a journal record into a log line.
func EntryFromTrade(rec types.TradeRecord) Entry {
	return Entry{
		Epic:          rec.Epic,
		Action:        rec.Action,
		Direction:     string(rec.Direction),
		Size:          rec.Size,
		Price:         rec.Price,
		StopLevel:     rec.StopLevel,
		ProfitLevel:   rec.ProfitLevel,
		DealReference: rec.DealReference,
		Reason:        rec.Reason,
		Confidence:    rec.Confidence,
		RealizedPL:    rec.RealizedPL,
		Simulated:     rec.Simulated,
	}
}

type DecisionEntry struct {
	Time       string             `json:"time"`
	Epic       string             `json:"epic"`
	Action     string             `json:"action"`
	Reason     string             `json:"reason"`
	Confidence float64            `json:"confidence"`
	Price      float64            `json:"price"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Extra      map[string]any     `json:"extra,omitempty"`
}

// Log writes under dir. Dates are UTC.
type Log struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func New(dir string) *Log {
	if dir == "" {
		dir = "logs"
	}
	return &Log{dir: dir, now: time.Now}
}

func (l *Log) Dir() string { return l.dir }

// TradesFile is the trade log for the UTC day containing t.
func (l *Log) TradesFile(t time.Time) string { return l.tradesPath(t.UTC()) }

func (l *Log) tradesPath(t time.Time) string {
	return filepath.Join(l.dir, "trades", t.Format(dayLayout)+fileExt)
}

func (l *Log) decisionsPath(t time.Time) string {
	return filepath.Join(l.dir, "decisions", t.Format(dayLayout)+fileExt)
}

func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	e.Time = now.Format(timeLayout)
	return appendLine(l.tradesPath(now), e)
}

func (l *Log) AppendDecision(e DecisionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	e.Time = now.Format(timeLayout)
	return appendLine(l.decisionsPath(now), e)
}

func appendLine(p string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips log files last modified more than retentionDays ago
// and removes the originals. Files that cannot be read are skipped.
func (l *Log) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, fileExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err == nil {
			_ = os.Remove(p)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
