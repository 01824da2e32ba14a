package sltp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/types"
)

const DefaultKey = "default"

// Params are fractions of the entry price, e.g. 0.03 for 3%.
type Params struct {
	StopLossPercent   float64 `yaml:"stop_loss_percent" json:"stop_loss_percent"`
	TakeProfitPercent float64 `yaml:"take_profit_percent" json:"take_profit_percent"`
}

// Fallback applies when neither the epic nor the default entry is configured.
var Fallback = Params{StopLossPercent: 0.03, TakeProfitPercent: 0.05}

func (p Params) Validate() error {
	if p.StopLossPercent <= 0 || p.StopLossPercent >= 1 {
		return fmt.Errorf("stop_loss_percent must be in (0,1), got %v", p.StopLossPercent)
	}
	if p.TakeProfitPercent <= 0 {
		return fmt.Errorf("take_profit_percent must be positive, got %v", p.TakeProfitPercent)
	}
	return nil
}

// ChangeRecorder stores the history of parameter edits.
type ChangeRecorder interface {
	RecordLevelChange(ctx context.Context, change types.LevelChange) error
}

// Manager holds per-epic stop-loss / take-profit percentages backed by a YAML file.
type Manager struct {
	path     string
	mu       sync.RWMutex
	data     map[string]Params
	recorder ChangeRecorder
	debounce time.Duration

	watcher      *fsnotify.Watcher
	suppressSelf atomic.Bool
}

type Option func(*Manager)

// WithRecorder records every Update in rec.
func WithRecorder(rec ChangeRecorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

// WithDebounce sets the delay between a file event and the reload.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

// NewManager loads path. A missing file is not an error; it is created on the first Update.
func NewManager(path string, opts ...Option) (*Manager, error) {
	m := &Manager{
		path:     path,
		data:     map[string]Params{},
		debounce: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	data, err := m.read()
	if err != nil {
		return nil, err
	}
	m.data = data
	return m, nil
}

func (m *Manager) read() (map[string]Params, error) {
	b, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Params{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sltp file: %w", err)
	}
	data := map[string]Params{}
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("parse sltp file: %w", err)
	}
	for epic, p := range data {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("sltp entry %q: %w", epic, err)
		}
	}
	return data, nil
}

// Params returns the entry for epic, else the default entry, else Fallback.
func (m *Manager) Params(epic string) Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paramsLocked(epic)
}

func (m *Manager) paramsLocked(epic string) Params {
	if p, ok := m.data[epic]; ok {
		return p
	}
	if p, ok := m.data[DefaultKey]; ok {
		return p
	}
	return Fallback
}

// Levels converts the percentages into absolute stop and profit levels for an
// entry at price. SELL levels mirror BUY levels.
func (m *Manager) Levels(epic string, price float64, dir types.Direction) (stop, profit float64) {
	p := m.Params(epic)
	if dir == types.DirectionSell {
		return price * (1 + p.StopLossPercent), price * (1 - p.TakeProfitPercent)
	}
	return price * (1 - p.StopLossPercent), price * (1 + p.TakeProfitPercent)
}

// All returns a copy of every configured entry.
func (m *Manager) All() map[string]Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Params, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Update sets the parameters of epic. Unchanged values are a no-op; changes are
// written to the file and to the recorder.
func (m *Manager) Update(ctx context.Context, epic string, p Params, source string) error {
	if epic == "" {
		return errors.New("sltp: empty epic")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.paramsLocked(epic)
	if old == p {
		m.mu.Unlock()
		return nil
	}
	m.data[epic] = p
	err := m.writeLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	logger.Info(ctx, "SL/TP updated",
		"epic", epic,
		"old_sl", old.StopLossPercent,
		"new_sl", p.StopLossPercent,
		"old_tp", old.TakeProfitPercent,
		"new_tp", p.TakeProfitPercent,
		"source", source,
	)

	if m.recorder == nil {
		return nil
	}
	return m.recorder.RecordLevelChange(ctx, types.LevelChange{
		Time:          time.Now().UTC(),
		Epic:          epic,
		OldStopLoss:   old.StopLossPercent,
		OldTakeProfit: old.TakeProfitPercent,
		NewStopLoss:   p.StopLossPercent,
		NewTakeProfit: p.TakeProfitPercent,
		Source:        source,
	})
}

func (m *Manager) writeLocked() error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var val yaml.Node
		if err := val.Encode(m.data[k]); err != nil {
			return fmt.Errorf("encode sltp entry: %w", err)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	}
	b, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("encode sltp file: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sltp dir: %w", err)
		}
	}
	m.suppressSelf.Store(true)
	defer time.AfterFunc(2*m.debounce, func() { m.suppressSelf.Store(false) })
	if err := os.WriteFile(m.path, b, 0o644); err != nil {
		return fmt.Errorf("write sltp file: %w", err)
	}
	return nil
}

// Reload re-reads the file. A file that fails to parse keeps the previous values.
func (m *Manager) Reload(ctx context.Context) error {
	data, err := m.read()
	if err != nil {
		logger.ErrorWithErr(ctx, "SL/TP reload failed, keeping previous values", err, "path", m.path)
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	logger.Info(ctx, "SL/TP reloaded", "path", m.path, "entries", len(data))
	return nil
}

// Watch reloads the file whenever it changes on disk, until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = watcher
	m.mu.Unlock()

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch sltp dir: %w", err)
	}
	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, func() { _ = m.Reload(ctx) })
	}

	target := filepath.Clean(m.path)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if m.suppressSelf.Load() {
				continue
			}
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn(ctx, "SL/TP watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
