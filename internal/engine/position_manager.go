package engine

import (
	"strings"
	"sync"
	"time"

	"capital-trading-bot/internal/types"
)

// position is the engine's view of an open broker position.
type position struct {
	dealID    string
	direction types.Direction
	size      float64
	openLevel float64
	entryTime time.Time
	pending   bool // reserved by an in-flight order
}

// positionManager indexes open positions by epic. It is refreshed from the
// broker at the start of every cycle and updated as orders go through.
type positionManager struct {
	mu        sync.Mutex
	positions map[string]*position
	loaded    bool
}

func newPositionManager() *positionManager {
	return &positionManager{positions: make(map[string]*position)}
}

// refresh replaces the index with the broker's list. Simulated positions
// never reach the broker, so they are carried over unless the broker now
// reports a real position on the same epic.
func (pm *positionManager) refresh(list []types.Position) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	next := make(map[string]*position, len(list))
	for _, p := range list {
		next[p.Epic] = &position{
			dealID:    p.DealID,
			direction: p.Direction,
			size:      p.Size,
			openLevel: p.OpenLevel,
			entryTime: p.CreatedAt,
		}
	}
	for epic, p := range pm.positions {
		if p.simulated() && next[epic] == nil {
			next[epic] = p
		}
	}
	pm.positions = next
	pm.loaded = true
}

func (p *position) simulated() bool {
	return strings.HasPrefix(p.dealID, simulatedPrefix)
}

func (pm *positionManager) isLoaded() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.loaded
}

func (pm *positionManager) has(epic string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.positions[epic] != nil
}

func (pm *positionManager) count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.positions)
}

// reserve claims epic for a new order. It fails when epic already holds a
// position or when maxOpen (if positive) positions are open or pending.
func (pm *positionManager) reserve(epic string, maxOpen int) (ok bool, reason string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.positions[epic] != nil {
		return false, "position already open"
	}
	if maxOpen > 0 && len(pm.positions) >= maxOpen {
		return false, "max open positions reached"
	}
	pm.positions[epic] = &position{pending: true}
	return true, ""
}

// release drops a reservation whose order did not go through.
func (pm *positionManager) release(epic string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p := pm.positions[epic]; p != nil && p.pending {
		delete(pm.positions, epic)
	}
}

// confirm turns a reservation into an open position. dealID is the deal
// reference for simulated fills until the broker list replaces it.
func (pm *positionManager) confirm(epic, dealID string, dir types.Direction, size, level float64, at time.Time) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.positions[epic] = &position{dealID: dealID, direction: dir, size: size, openLevel: level, entryTime: at}
}

func (pm *positionManager) close(epic string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.positions, epic)
}
