// Package model defines the core domain types shared across the exchange
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order is a standing offer to buy or sell shares at a fixed price.
// At most one order exists per holder. Amount is the remaining quantity;
// an order whose amount reaches zero is removed, never kept at zero.
// Escrow is the settlement value held by the engine for a buy order
// (principal plus tax); it is zero for sell orders, whose escrow lives
// in the share ledger instead.
type Order struct {
	Owner     string          `json:"owner"`
	Side      string          `json:"side"` // "BUY" or "SELL"
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Escrow    decimal.Decimal `json:"escrow"`
	CreatedAt time.Time       `json:"created_at"`
}

// TradeEntry is an immutable record of an accepted order fill. Once
// created, these are never modified or deleted.
type TradeEntry struct {
	ID        string          `json:"id" db:"id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Maker     string          `json:"maker" db:"maker"` // resting order owner
	Taker     string          `json:"taker" db:"taker"` // accepting caller
	Side      string          `json:"side" db:"side"`   // side of the resting order
	Price     decimal.Decimal `json:"price" db:"price"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Tax       decimal.Decimal `json:"tax" db:"tax"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PresaleState is the serializable view of a presale record.
type PresaleState struct {
	Target      decimal.Decimal            `json:"target"`
	Price       decimal.Decimal            `json:"price"`
	Start       time.Time                  `json:"start"`
	End         time.Time                  `json:"end"`
	Subscribed  decimal.Decimal            `json:"subscribed"`
	Allocations map[string]decimal.Decimal `json:"allocations"`
	Subscribers []string                   `json:"subscribers"`
}

// Snapshot is the full persisted state of one exchange instance.
type Snapshot struct {
	Symbol      string                     `json:"symbol" db:"symbol"`
	Name        string                     `json:"name" db:"name"`
	Owner       string                     `json:"owner" db:"owner"`
	Phase       string                     `json:"phase" db:"phase"`
	TaxRate     decimal.Decimal            `json:"tax_rate" db:"tax_rate"` // numerator, scale 3
	Decimals    int32                      `json:"decimals" db:"decimals"`
	TotalSupply decimal.Decimal            `json:"total_supply" db:"total_supply"`
	LastPrice   decimal.Decimal            `json:"last_price" db:"last_price"`
	Balances    map[string]decimal.Decimal `json:"balances"`
	Escrows     map[string]decimal.Decimal `json:"escrows"`
	Holders     []string                   `json:"holders"`
	Orders      []Order                    `json:"orders"`
	Presale     *PresaleState              `json:"presale,omitempty"`
	UpdatedAt   time.Time                  `json:"updated_at" db:"updated_at"`
}

// Info is the lightweight read-only view of an exchange.
type Info struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Owner       string          `json:"owner"`
	Phase       string          `json:"phase"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Decimals    int32           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	LastPrice   decimal.Decimal `json:"last_price"`
}
