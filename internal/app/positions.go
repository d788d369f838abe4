package app

import (
	"sync"

	"whalewatch/internal/store"
)

// PositionTracker keeps an estimated signed position per (address, token).
// Positive sizes are long, negative short. The estimate is fill-derived and
// drifts if history predates the first cursor, so it is advisory only.
type PositionTracker struct {
	mu        sync.Mutex
	positions map[string]map[string]float64
	dirty     bool
}

func NewPositionTracker() *PositionTracker {
	return &PositionTracker{
		positions: make(map[string]map[string]float64),
	}
}

// Apply folds a trade into the position and returns the size after it.
func (pt *PositionTracker) Apply(ev TradeEvent) float64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	byToken := pt.positions[ev.Address]
	if byToken == nil {
		byToken = make(map[string]float64)
		pt.positions[ev.Address] = byToken
	}

	// Flat entries stay in the map until a snapshot exports the zero, so the
	// persisted row gets deleted instead of lingering at its last size.
	after := byToken[ev.Token] + signedSize(ev.Direction, ev.Action, ev.Size)
	byToken[ev.Token] = after
	pt.dirty = true

	return after
}

// Get returns the current size for one pair.
func (pt *PositionTracker) Get(address, token string) float64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.positions[address][token]
}

// Snapshot exports every tracked position, flat ones included as explicit
// zero records, and clears the dirty flag. Flat entries are dropped once
// exported. Returns nil when nothing changed since the last snapshot.
func (pt *PositionTracker) Snapshot() []store.PositionRecord {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !pt.dirty {
		return nil
	}
	pt.dirty = false

	var records []store.PositionRecord
	for addr, byToken := range pt.positions {
		for token, size := range byToken {
			records = append(records, store.PositionRecord{
				Address: addr,
				Token:   token,
				Size:    size,
			})
			if size == 0 {
				delete(byToken, token)
			}
		}
		if len(byToken) == 0 {
			delete(pt.positions, addr)
		}
	}
	return records
}

// Restore loads persisted positions, replacing current state.
func (pt *PositionTracker) Restore(records []store.PositionRecord) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.positions = make(map[string]map[string]float64)
	for _, rec := range records {
		if rec.Size == 0 {
			continue
		}
		byToken := pt.positions[rec.Address]
		if byToken == nil {
			byToken = make(map[string]float64)
			pt.positions[rec.Address] = byToken
		}
		byToken[rec.Token] = rec.Size
	}
	pt.dirty = false
}
