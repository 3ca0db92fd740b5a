// Package payment defines the ports to the two external value systems an
// exchange settles against: the fungible settlement asset (allowance-based
// pull transfers, used for all trade value) and the royalty side channel
// (used exclusively for platform fees). The two are never mixed.
//
// In-memory implementations back tests and single-process deployments;
// a production deployment substitutes adapters to the real ledgers.
package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when an account cannot cover a
	// transfer.
	ErrInsufficientBalance = errors.New("payment: insufficient balance")

	// ErrInsufficientAllowance is returned when a pull exceeds what the
	// account owner approved for the engine.
	ErrInsufficientAllowance = errors.New("payment: insufficient allowance")
)

// Asset is the external fungible settlement ledger. The engine pulls
// value with TransferFrom under an allowance granted to its escrow
// account, and releases previously pulled value with Transfer.
type Asset interface {
	// TransferFrom pulls amount from `from` to `to` on behalf of
	// `spender`, consuming allowance `from` granted to `spender`.
	TransferFrom(ctx context.Context, spender, from, to string, amount decimal.Decimal) error

	// Transfer moves amount out of `from` — used by the engine to pay
	// out of its own escrow account.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error

	// BalanceOf reports an account's balance.
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)
}

// SideChannel is the secondary value path carrying royalty fees. It is
// deliberately minimal: a single push from payer to recipient.
type SideChannel interface {
	Pay(ctx context.Context, from, to string, amount decimal.Decimal) error
}

// MemoryAsset is an in-memory Asset with ERC20-style allowances.
type MemoryAsset struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	allowance map[string]map[string]decimal.Decimal // owner → spender → amount
}

// NewMemoryAsset creates an empty in-memory settlement asset.
func NewMemoryAsset() *MemoryAsset {
	return &MemoryAsset{
		balances:  make(map[string]decimal.Decimal),
		allowance: make(map[string]map[string]decimal.Decimal),
	}
}

// Fund credits an account directly. Test and bootstrap helper.
func (a *MemoryAsset) Fund(account string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[account] = a.balances[account].Add(amount)
}

// Approve lets spender pull up to amount from owner. Overwrites any
// previous allowance, matching approve semantics of the external ledger.
func (a *MemoryAsset) Approve(owner, spender string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allowance[owner] == nil {
		a.allowance[owner] = make(map[string]decimal.Decimal)
	}
	a.allowance[owner][spender] = amount
}

// Allowance reports the remaining approval from owner to spender.
func (a *MemoryAsset) Allowance(owner, spender string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowance[owner][spender]
}

func (a *MemoryAsset) TransferFrom(_ context.Context, spender, from, to string, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.allowance[from][spender].LessThan(amount) {
		return ErrInsufficientAllowance
	}
	if a.balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	a.allowance[from][spender] = a.allowance[from][spender].Sub(amount)
	a.balances[from] = a.balances[from].Sub(amount)
	a.balances[to] = a.balances[to].Add(amount)
	return nil
}

func (a *MemoryAsset) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	a.balances[from] = a.balances[from].Sub(amount)
	a.balances[to] = a.balances[to].Add(amount)
	return nil
}

func (a *MemoryAsset) BalanceOf(_ context.Context, account string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[account], nil
}

// MemorySideChannel is an in-memory SideChannel.
type MemorySideChannel struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewMemorySideChannel creates an empty in-memory side channel.
func NewMemorySideChannel() *MemorySideChannel {
	return &MemorySideChannel{balances: make(map[string]decimal.Decimal)}
}

// Fund credits an account directly. Test and bootstrap helper.
func (c *MemorySideChannel) Fund(account string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = c.balances[account].Add(amount)
}

// BalanceOf reports an account's side-channel balance.
func (c *MemorySideChannel) BalanceOf(account string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account]
}

func (c *MemorySideChannel) Pay(_ context.Context, from, to string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	c.balances[from] = c.balances[from].Sub(amount)
	c.balances[to] = c.balances[to].Add(amount)
	return nil
}
