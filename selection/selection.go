// Package selection tracks the chosen coffee tier and quantity.
package selection

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/types"
)

// Snapshot is the selection as seen by listeners.
type Snapshot struct {
	Tier     types.Tier
	Quantity int
	Total    decimal.Decimal
}

type Listener func(Snapshot)

// State holds the selected tier and quantity. Quantity always stays within [1, max].
type State struct {
	mu        sync.RWMutex
	tiers     []types.Tier
	byID      map[types.TierID]int
	selected  int
	quantity  int
	max       int
	notifier  types.Notifier
	listeners []Listener
}

// New starts with the first tier selected and a quantity of one.
func New(tiers []types.Tier, max int, notifier types.Notifier) (*State, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one tier is required")
	}
	if max < 1 {
		return nil, fmt.Errorf("max quantity must be at least 1, got %d", max)
	}

	byID := make(map[types.TierID]int, len(tiers))
	for i, t := range tiers {
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tier %q", t.ID)
		}
		if !t.UnitPrice.IsPositive() {
			return nil, fmt.Errorf("tier %q must have a positive price", t.ID)
		}
		byID[t.ID] = i
	}

	return &State{
		tiers:    append([]types.Tier(nil), tiers...),
		byID:     byID,
		quantity: 1,
		max:      max,
		notifier: notifier,
	}, nil
}

// Tiers returns the tier set in display order.
func (s *State) Tiers() []types.Tier {
	return append([]types.Tier(nil), s.tiers...)
}

// Select makes id the current tier. An unknown id leaves the state untouched
// and produces exactly one error report.
func (s *State) Select(id types.TierID) error {
	s.mu.Lock()
	idx, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		if s.notifier != nil {
			s.notifier.Report(types.ErrNoSelection.Message, types.SeverityError)
		}
		return types.ErrNoSelection.Wrap(fmt.Errorf("unknown tier %q", id))
	}
	s.selected = idx
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Increment raises the quantity by one. It reports false at the upper bound.
func (s *State) Increment() bool {
	return s.step(1)
}

// Decrement lowers the quantity by one. It reports false at the lower bound.
func (s *State) Decrement() bool {
	return s.step(-1)
}

func (s *State) step(delta int) bool {
	s.mu.Lock()
	next := s.quantity + delta
	if next < 1 || next > s.max {
		s.mu.Unlock()
		return false
	}
	s.quantity = next
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, snap)
	return true
}

// Selected returns the current tier.
func (s *State) Selected() types.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tiers[s.selected]
}

func (s *State) Quantity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quantity
}

func (s *State) Max() int {
	return s.max
}

// Total is unit price times quantity, exact.
func (s *State) Total() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalLocked()
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Tier: s.tiers[s.selected], Quantity: s.quantity, Total: s.totalLocked()}
}

func (s *State) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *State) totalLocked() decimal.Decimal {
	return s.tiers[s.selected].UnitPrice.Mul(decimal.NewFromInt(int64(s.quantity)))
}

func (s *State) snapshotLocked() (Snapshot, []Listener) {
	snap := Snapshot{Tier: s.tiers[s.selected], Quantity: s.quantity, Total: s.totalLocked()}
	return snap, append([]Listener(nil), s.listeners...)
}

func notify(listeners []Listener, snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
