package levels

import (
	"context"
	"sync"
	"time"
)

// StaticStore serves fixed level maps, ignoring the date. It backs runs
// without a database and tests.
type StaticStore struct {
	mu     sync.RWMutex
	levels map[string]map[string]float64
}

// NewStaticStore creates a store from symbol -> level type -> price.
func NewStaticStore(levels map[string]map[string]float64) *StaticStore {
	s := &StaticStore{levels: make(map[string]map[string]float64, len(levels))}
	for symbol, lvls := range levels {
		s.Set(symbol, lvls)
	}
	return s
}

// GetLevels returns a copy of the symbol's levels.
func (s *StaticStore) GetLevels(ctx context.Context, symbol string, date time.Time) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.levels[symbol]))
	for k, v := range s.levels[symbol] {
		out[k] = v
	}
	return out, nil
}

// Set replaces the symbol's levels.
func (s *StaticStore) Set(symbol string, levels map[string]float64) {
	cp := make(map[string]float64, len(levels))
	for k, v := range levels {
		cp[k] = v
	}
	s.mu.Lock()
	s.levels[symbol] = cp
	s.mu.Unlock()
}
