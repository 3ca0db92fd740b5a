package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharebook/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for exchange snapshots. Writes go to the primary store and refresh
// the cache; reads check Redis first then fall back to the primary. The
// trade log is append-only and passed through uncached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveExchange(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SaveExchange(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, snap)
	return nil
}

func (s *CachedStore) GetExchange(ctx context.Context, symbol string) (*model.Snapshot, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, exchangeKey(symbol)).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.GetExchange(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListExchanges(ctx context.Context) ([]model.Snapshot, error) {
	return s.primary.ListExchanges(ctx)
}

func (s *CachedStore) InsertTrade(ctx context.Context, entry *model.TradeEntry) error {
	return s.primary.InsertTrade(ctx, entry)
}

func (s *CachedStore) TradesByExchange(ctx context.Context, symbol string) ([]model.TradeEntry, error) {
	return s.primary.TradesByExchange(ctx, symbol)
}

func (s *CachedStore) TradesByHolder(ctx context.Context, holder string) ([]model.TradeEntry, error) {
	return s.primary.TradesByHolder(ctx, holder)
}

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap *model.Snapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, exchangeKey(snap.Symbol), data, s.ttl)
	}
}

func exchangeKey(symbol string) string { return fmt.Sprintf("exchange:%s", symbol) }
