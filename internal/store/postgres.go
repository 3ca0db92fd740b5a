package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary scalars are stored as NUMERIC for exact decimal precision;
// the balance/escrow/order/presale tables of a snapshot are stored as
// JSONB, since they are always read and written as a unit.
//
// Expected schema:
//
//	CREATE TABLE exchanges (
//	    symbol       TEXT PRIMARY KEY,
//	    name         TEXT NOT NULL,
//	    owner        TEXT NOT NULL,
//	    phase        TEXT NOT NULL,
//	    tax_rate     NUMERIC NOT NULL,
//	    decimals     INT NOT NULL,
//	    total_supply NUMERIC NOT NULL,
//	    last_price   NUMERIC NOT NULL,
//	    state        JSONB NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE trades (
//	    id        TEXT PRIMARY KEY,
//	    symbol    TEXT NOT NULL,
//	    maker     TEXT NOT NULL,
//	    taker     TEXT NOT NULL,
//	    side      TEXT NOT NULL,
//	    price     NUMERIC NOT NULL,
//	    amount    NUMERIC NOT NULL,
//	    tax       NUMERIC NOT NULL,
//	    timestamp TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// snapshotState is the JSONB payload: everything in a snapshot that is
// a table rather than a scalar.
type snapshotState struct {
	Balances map[string]decimal.Decimal `json:"balances"`
	Escrows  map[string]decimal.Decimal `json:"escrows"`
	Holders  []string                   `json:"holders"`
	Orders   []model.Order              `json:"orders"`
	Presale  *model.PresaleState        `json:"presale,omitempty"`
}

func (s *PostgresStore) SaveExchange(ctx context.Context, snap *model.Snapshot) error {
	stateJSON, err := json.Marshal(snapshotState{
		Balances: snap.Balances,
		Escrows:  snap.Escrows,
		Holders:  snap.Holders,
		Orders:   snap.Orders,
		Presale:  snap.Presale,
	})
	if err != nil {
		return fmt.Errorf("marshal exchange state: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO exchanges (symbol, name, owner, phase, tax_rate, decimals, total_supply, last_price, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9, $10)
		 ON CONFLICT (symbol) DO UPDATE SET
		     phase = EXCLUDED.phase,
		     tax_rate = EXCLUDED.tax_rate,
		     decimals = EXCLUDED.decimals,
		     total_supply = EXCLUDED.total_supply,
		     last_price = EXCLUDED.last_price,
		     state = EXCLUDED.state,
		     updated_at = EXCLUDED.updated_at`,
		snap.Symbol, snap.Name, snap.Owner, snap.Phase,
		snap.TaxRate.String(), snap.Decimals,
		snap.TotalSupply.String(), snap.LastPrice.String(),
		stateJSON, snap.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetExchange(ctx context.Context, symbol string) (*model.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT symbol, name, owner, phase,
		        tax_rate::TEXT, decimals, total_supply::TEXT, last_price::TEXT,
		        state, updated_at
		 FROM exchanges WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, fmt.Errorf("get exchange %s: %w", symbol, err)
	}
	return snap, nil
}

func (s *PostgresStore) ListExchanges(ctx context.Context) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, owner, phase,
		        tax_rate::TEXT, decimals, total_supply::TEXT, last_price::TEXT,
		        state, updated_at
		 FROM exchanges ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, e *model.TradeEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, symbol, maker, taker, side, price, amount, tax, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.Symbol, e.Maker, e.Taker, e.Side,
		e.Price.String(), e.Amount.String(), e.Tax.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) TradesByExchange(ctx context.Context, symbol string) ([]model.TradeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, maker, taker, side,
		        price::TEXT, amount::TEXT, tax::TEXT, timestamp
		 FROM trades WHERE symbol = $1 ORDER BY timestamp`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByHolder(ctx context.Context, holder string) ([]model.TradeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, maker, taker, side,
		        price::TEXT, amount::TEXT, tax::TEXT, timestamp
		 FROM trades WHERE maker = $1 OR taker = $1 ORDER BY timestamp`, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// pgxRow abstracts QueryRow results and iterated rows for scanning.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row pgxRow) (*model.Snapshot, error) {
	var snap model.Snapshot
	var taxRate, totalSupply, lastPrice string
	var stateJSON []byte

	if err := row.Scan(&snap.Symbol, &snap.Name, &snap.Owner, &snap.Phase,
		&taxRate, &snap.Decimals, &totalSupply, &lastPrice,
		&stateJSON, &snap.UpdatedAt); err != nil {
		return nil, err
	}

	snap.TaxRate, _ = decimal.NewFromString(taxRate)
	snap.TotalSupply, _ = decimal.NewFromString(totalSupply)
	snap.LastPrice, _ = decimal.NewFromString(lastPrice)

	var st snapshotState
	if err := json.Unmarshal(stateJSON, &st); err != nil {
		return nil, fmt.Errorf("unmarshal exchange state: %w", err)
	}
	snap.Balances = st.Balances
	snap.Escrows = st.Escrows
	snap.Holders = st.Holders
	snap.Orders = st.Orders
	snap.Presale = st.Presale

	return &snap, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.TradeEntry, error) {
	var entries []model.TradeEntry
	for rows.Next() {
		var e model.TradeEntry
		var priceS, amountS, taxS string

		if err := rows.Scan(&e.ID, &e.Symbol, &e.Maker, &e.Taker, &e.Side,
			&priceS, &amountS, &taxS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Price, _ = decimal.NewFromString(priceS)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.Tax, _ = decimal.NewFromString(taxS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
