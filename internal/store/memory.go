package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharebook/exchange-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	exchanges map[string]*model.Snapshot
	trades    []model.TradeEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exchanges: make(map[string]*model.Snapshot),
	}
}

func (s *MemoryStore) SaveExchange(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *snap
	s.exchanges[snap.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetExchange(_ context.Context, symbol string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.exchanges[symbol]
	if !ok {
		return nil, fmt.Errorf("exchange %s not found", symbol)
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) ListExchanges(_ context.Context) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Snapshot, 0, len(s.exchanges))
	for _, snap := range s.exchanges {
		out = append(out, *snap)
	}
	return out, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, entry *model.TradeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *entry)
	return nil
}

func (s *MemoryStore) TradesByExchange(_ context.Context, symbol string) ([]model.TradeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TradeEntry
	for _, t := range s.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) TradesByHolder(_ context.Context, holder string) ([]model.TradeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TradeEntry
	for _, t := range s.trades {
		if t.Maker == holder || t.Taker == holder {
			out = append(out, t)
		}
	}
	return out, nil
}
