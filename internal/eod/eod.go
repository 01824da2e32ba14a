// Package eod writes a per-epic CSV summary of each completed UTC trading day.
package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/tradelog"
	"capital-trading-bot/internal/types"
)

const dayLayout = "2006-01-02"

type aggRow struct {
	Epic       string
	Opens      int
	Closes     int
	BuySize    float64
	SellSize   float64
	RealizedPL float64
	Simulated  int
}

type eodSummarizer struct {
	log *tradelog.Log
	now func() time.Time
}

var _ interfaces.EodSummarizer = (*eodSummarizer)(nil)

// NewSummarizer reads trades from l and writes summaries to <dir>/eod.
func NewSummarizer(l *tradelog.Log) interfaces.EodSummarizer {
	return &eodSummarizer{log: l, now: time.Now}
}

func (s *eodSummarizer) csvPath(t time.Time) string {
	return filepath.Join(s.log.Dir(), "eod", t.UTC().Format(dayLayout)+".csv")
}

func (s *eodSummarizer) previousDay() time.Time {
	return s.now().UTC().AddDate(0, 0, -1)
}

// SummarizeDay returns "" without error when the day has no trades.
func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	f, err := os.Open(s.log.TradesFile(t))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e tradelog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Epic == "" {
			continue
		}
		row := aggs[e.Epic]
		if row == nil {
			row = &aggRow{Epic: e.Epic}
			aggs[e.Epic] = row
		}
		switch e.Action {
		case types.TradeOpen:
			row.Opens++
		case types.TradeClose:
			row.Closes++
			row.RealizedPL += e.RealizedPL
		}
		switch types.Direction(e.Direction) {
		case types.DirectionBuy:
			row.BuySize += e.Size
		case types.DirectionSell:
			row.SellSize += e.Size
		}
		if e.Simulated {
			row.Simulated++
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"epic", "opens", "closes", "buy_size", "sell_size", "realized_pl", "simulated"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var totalOpens, totalCloses int
	var totalPL float64
	for _, k := range keys {
		r := aggs[k]
		rec := []string{
			r.Epic,
			strconv.Itoa(r.Opens),
			strconv.Itoa(r.Closes),
			fmt.Sprintf("%.4f", r.BuySize),
			fmt.Sprintf("%.4f", r.SellSize),
			fmt.Sprintf("%.2f", r.RealizedPL),
			strconv.Itoa(r.Simulated),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalOpens += r.Opens
		totalCloses += r.Closes
		totalPL += r.RealizedPL
	}
	_ = w.Write([]string{"TOTAL", strconv.Itoa(totalOpens), strconv.Itoa(totalCloses), "", "", fmt.Sprintf("%.2f", totalPL), ""})
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (s *eodSummarizer) SummarizePreviousDay() (string, error) {
	return s.SummarizeDay(s.previousDay())
}

// ShouldRunNow is true once the previous UTC day has trades but no summary.
func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	day := s.previousDay()
	outPath := s.csvPath(day)
	if _, err := os.Stat(outPath); err == nil {
		return false, outPath
	}
	if _, err := os.Stat(s.log.TradesFile(day)); err != nil {
		return false, outPath
	}
	return true, outPath
}
