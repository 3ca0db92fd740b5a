// Package store defines the persistence interface for the exchange
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing). The engine itself
// is the runtime source of truth; the store holds snapshots for restart
// recovery plus the immutable trade log.
package store

import (
	"context"

	"github.com/sharebook/exchange-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// SaveExchange upserts the snapshot of one exchange instance.
	SaveExchange(ctx context.Context, snap *model.Snapshot) error

	// GetExchange retrieves a snapshot by symbol.
	GetExchange(ctx context.Context, symbol string) (*model.Snapshot, error)

	// ListExchanges returns all persisted snapshots.
	ListExchanges(ctx context.Context) ([]model.Snapshot, error)

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, entry *model.TradeEntry) error

	// TradesByExchange returns all trades for one exchange in time order.
	TradesByExchange(ctx context.Context, symbol string) ([]model.TradeEntry, error)

	// TradesByHolder returns all trades a holder took part in, either side.
	TradesByHolder(ctx context.Context, holder string) ([]model.TradeEntry, error)
}
