// Package ledger tracks share balances and total supply for one exchange
// instance. Balances are split into a free part and an escrowed part:
// shares locked under a resting sell order stay owned by the seller but
// are excluded from the transferable balance.
//
// Invariant: sum of free balances + sum of escrowed amounts == total
// supply at all times. Amounts use shopspring/decimal with integer values.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientShares is returned when a holder lacks enough free (or,
// for escrow moves, escrowed) shares for the requested operation.
var ErrInsufficientShares = errors.New("ledger: insufficient shares")

// Ledger holds the share accounting for a single exchange. It is not
// safe for concurrent use; the owning exchange serializes access.
type Ledger struct {
	free    map[string]decimal.Decimal
	escrow  map[string]decimal.Decimal
	holders []string // first-touch order, for the shareholder registry
	supply  decimal.Decimal
}

// New creates an empty ledger with zero supply.
func New() *Ledger {
	return &Ledger{
		free:   make(map[string]decimal.Decimal),
		escrow: make(map[string]decimal.Decimal),
	}
}

// Mint issues new shares to a holder and grows total supply. Used only
// for initial issuance and presale finalization.
func (l *Ledger) Mint(to string, amount decimal.Decimal) {
	l.touch(to)
	l.free[to] = l.free[to].Add(amount)
	l.supply = l.supply.Add(amount)
}

// Transfer moves free shares between holders. Escrowed shares are never
// reachable here.
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	if l.free[from].LessThan(amount) {
		return ErrInsufficientShares
	}
	l.touch(to)
	l.free[from] = l.free[from].Sub(amount)
	l.free[to] = l.free[to].Add(amount)
	return nil
}

// Lock moves shares from a holder's free balance into escrow, backing a
// new sell order.
func (l *Ledger) Lock(holder string, amount decimal.Decimal) error {
	if l.free[holder].LessThan(amount) {
		return ErrInsufficientShares
	}
	l.free[holder] = l.free[holder].Sub(amount)
	l.escrow[holder] = l.escrow[holder].Add(amount)
	return nil
}

// Unlock returns escrowed shares to the holder's free balance (order
// cancellation).
func (l *Ledger) Unlock(holder string, amount decimal.Decimal) error {
	if l.escrow[holder].LessThan(amount) {
		return ErrInsufficientShares
	}
	l.escrow[holder] = l.escrow[holder].Sub(amount)
	l.free[holder] = l.free[holder].Add(amount)
	return nil
}

// Settle moves shares out of the seller's escrow directly into the
// buyer's free balance (sell-order acceptance).
func (l *Ledger) Settle(seller, buyer string, amount decimal.Decimal) error {
	if l.escrow[seller].LessThan(amount) {
		return ErrInsufficientShares
	}
	l.touch(buyer)
	l.escrow[seller] = l.escrow[seller].Sub(amount)
	l.free[buyer] = l.free[buyer].Add(amount)
	return nil
}

// BalanceOf returns the holder's free balance only. Shares escrowed in
// the holder's own sell order are excluded.
func (l *Ledger) BalanceOf(holder string) decimal.Decimal {
	return l.free[holder]
}

// EscrowOf returns the holder's escrowed amount.
func (l *Ledger) EscrowOf(holder string) decimal.Decimal {
	return l.escrow[holder]
}

// TotalSupply returns the total issued share count.
func (l *Ledger) TotalSupply() decimal.Decimal {
	return l.supply
}

// Holders returns every account that ever held shares, in first-touch
// order.
func (l *Ledger) Holders() []string {
	out := make([]string, len(l.holders))
	copy(out, l.holders)
	return out
}

// Balances returns a copy of the free balance table, for snapshots.
func (l *Ledger) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.free))
	for h, b := range l.free {
		out[h] = b
	}
	return out
}

// Escrows returns a copy of the escrow table, for snapshots.
func (l *Ledger) Escrows() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.escrow))
	for h, b := range l.escrow {
		out[h] = b
	}
	return out
}

func (l *Ledger) touch(holder string) {
	if _, ok := l.free[holder]; ok {
		return
	}
	l.free[holder] = decimal.Zero
	l.holders = append(l.holders, holder)
}

// Restore rebuilds a ledger from snapshot data. Holder registry order
// follows the supplied holders slice.
func Restore(free, escrow map[string]decimal.Decimal, holders []string, supply decimal.Decimal) *Ledger {
	l := New()
	for _, h := range holders {
		l.touch(h)
	}
	for h, b := range free {
		l.touch(h)
		l.free[h] = b
	}
	for h, b := range escrow {
		l.touch(h)
		l.escrow[h] = b
	}
	l.supply = supply
	return l
}
