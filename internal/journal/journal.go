// Package journal persists trades, equity snapshots and SL/TP edits in SQLite.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/types"
)

var _ interfaces.Journal = (*Store)(nil)

// Store is the gorm-backed journal.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open creates the database file and its parent directory if needed and
// migrates the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&tradeModel{}, &equityModel{}, &levelChangeModel{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL allows the status API to read while the engine writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordTrade stores rec, assigning an id and timestamp when missing.
func (s *Store) RecordTrade(ctx context.Context, rec types.TradeRecord) error {
	if strings.TrimSpace(rec.Epic) == "" {
		return errors.New("journal: trade without epic")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = s.now()
	}
	m := newTradeModel(rec)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) RecordEquity(ctx context.Context, snap types.EquitySnapshot) error {
	if snap.Time.IsZero() {
		snap.Time = s.now()
	}
	m := equityModel{
		CreatedAtUnix: unixMilli(snap.Time),
		Currency:      snap.Currency,
		Balance:       snap.Balance,
		Available:     snap.Available,
		UnrealizedPL:  snap.UnrealizedPL,
		OpenPositions: snap.OpenPositions,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) RecordLevelChange(ctx context.Context, change types.LevelChange) error {
	if change.Time.IsZero() {
		change.Time = s.now()
	}
	m := levelChangeModel{
		CreatedAtUnix: unixMilli(change.Time),
		Epic:          change.Epic,
		OldStopLoss:   change.OldStopLoss,
		OldTakeProfit: change.OldTakeProfit,
		NewStopLoss:   change.NewStopLoss,
		NewTakeProfit: change.NewTakeProfit,
		Source:        change.Source,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// Trades returns trades at or after since, oldest first. A zero since
// returns everything.
func (s *Store) Trades(ctx context.Context, since time.Time) ([]types.TradeRecord, error) {
	var rows []tradeModel
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", unixMilli(since)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) Equity(ctx context.Context, since time.Time) ([]types.EquitySnapshot, error) {
	var rows []equityModel
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", unixMilli(since)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.EquitySnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.snapshot())
	}
	return out, nil
}

// LevelChanges returns the edit history for epic, or for every epic when
// epic is empty.
func (s *Store) LevelChanges(ctx context.Context, epic string) ([]types.LevelChange, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if epic != "" {
		q = q.Where("epic = ?", epic)
	}
	var rows []levelChangeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.LevelChange, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.change())
	}
	return out, nil
}

// RealizedPL sums the realized profit of closes at or after since.
func (s *Store) RealizedPL(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&tradeModel{}).
		Where("action = ? AND created_at >= ?", types.TradeClose, unixMilli(since)).
		Select("COALESCE(SUM(realized_pl), 0)").
		Scan(&total).Error
	return total, err
}
