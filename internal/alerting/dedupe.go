package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DedupeStore persists the last delivery time per symbol.
type DedupeStore interface {
	LoadDeliveries(ctx context.Context) (map[string]time.Time, error)
	SaveDelivery(ctx context.Context, symbol string, at time.Time) error
}

// DedupeState tracks the last delivered notification per symbol. Updates are
// persisted immediately and timestamps never move backwards.
type DedupeState struct {
	mu    sync.Mutex
	last  map[string]time.Time
	store DedupeStore
}

// LoadDedupeState reads the persisted state. A nil store keeps state in
// memory only.
func LoadDedupeState(ctx context.Context, store DedupeStore) (*DedupeState, error) {
	s := &DedupeState{last: make(map[string]time.Time), store: store}
	if store == nil {
		return s, nil
	}
	loaded, err := store.LoadDeliveries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dedupe state: %w", err)
	}
	for k, v := range loaded {
		s.last[k] = v
	}
	return s, nil
}

// Last returns the last delivery time for symbol.
func (s *DedupeState) Last(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[symbol]
	return t, ok
}

// CoolingDown reports whether less than cooldown has elapsed since the last
// delivery for symbol.
func (s *DedupeState) CoolingDown(symbol string, now time.Time, cooldown time.Duration) bool {
	last, ok := s.Last(symbol)
	if !ok {
		return false
	}
	return now.Sub(last) < cooldown
}

// Record stores a delivery at time at and persists it. Earlier timestamps
// than the one already held are ignored.
func (s *DedupeState) Record(ctx context.Context, symbol string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[symbol]; ok && !at.After(prev) {
		return nil
	}
	s.last[symbol] = at
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveDelivery(ctx, symbol, at); err != nil {
		return fmt.Errorf("persist dedupe state for %s: %w", symbol, err)
	}
	return nil
}

// Snapshot returns a copy of the state.
func (s *DedupeState) Snapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}
