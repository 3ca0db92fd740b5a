// Package exchange implements the share exchange engine: the lifecycle
// state machine around initial distribution (immediate issuance or capped
// presale), the single-order-per-holder resting order book, and the
// two-layer fee accounting (owner tax on trade principal, platform
// royalty through the side channel).
//
// An Exchange is a self-contained instance value: it owns its own share
// ledger, order table and presale record. The instance mutex is held for
// the whole of every public operation, which is also the re-entrancy
// guard for callbacks from the external payment ledgers. Inside the lock
// each operation runs validate → external pulls → internal mutation →
// external payouts, so a failed pull aborts before any state changes.
//
// All monetary values use shopspring/decimal — never float64 for money.
package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/fees"
	"github.com/sharebook/exchange-engine/internal/ledger"
	"github.com/sharebook/exchange-engine/internal/model"
	"github.com/sharebook/exchange-engine/internal/payment"
	"github.com/sharebook/exchange-engine/internal/state"
)

var (
	// ErrNotOwner is returned when an owner-gated operation is called by
	// anyone else.
	ErrNotOwner = errors.New("exchange: caller is not the owner")

	// ErrActiveOrder is returned when a holder with a resting order
	// tries to create a second one.
	ErrActiveOrder = errors.New("exchange: active order, cancel first")

	// ErrNoActiveOrder is returned by cancel and accept when the
	// referenced holder has no resting order.
	ErrNoActiveOrder = errors.New("exchange: no active order")

	// ErrPresaleClosed is returned by withdraw after a presale reached
	// its target: shares were issued, no refund is owed.
	ErrPresaleClosed = errors.New("exchange: presale already finished")

	// ErrInvalidAmount is returned for zero or negative prices/amounts.
	ErrInvalidAmount = errors.New("exchange: amount and price must be positive")

	// ErrNothingToWithdraw is returned when a withdraw caller holds no
	// presale subscription.
	ErrNothingToWithdraw = errors.New("exchange: nothing to withdraw")
)

// initialSupplyUnits is the unscaled share total minted at initialization:
// 100 units, so one unscaled share is one percent of ownership.
const initialSupplyUnits = 100

// Exchange is one tokenized asset instance. Create via New (or a
// registry.Registry, which also wires the shared royalty config).
type Exchange struct {
	mu sync.Mutex

	name   string
	symbol string
	owner  string

	// account is this instance's escrow account on the settlement asset.
	// Buy-order escrow and presale proceeds are held there.
	account string

	phase     state.Phase
	tax       fees.Tax
	decimals  int32
	lastPrice decimal.Decimal

	shares  *ledger.Ledger
	orders  map[string]*model.Order
	queue   []string // order owners in creation order
	presale *presaleRecord

	asset   payment.Asset
	side    payment.SideChannel
	royalty fees.Provider
}

// New creates an exchange in the Created phase. Nothing is issued until
// the owner calls Initialize or InitializePresale.
func New(name, symbol, owner string, asset payment.Asset, side payment.SideChannel, royalty fees.Provider) *Exchange {
	return &Exchange{
		name:    name,
		symbol:  symbol,
		owner:   owner,
		account: "exchange:" + uuid.New().String(),
		phase:   state.Created,
		shares:  ledger.New(),
		orders:  make(map[string]*model.Order),
		asset:   asset,
		side:    side,
		royalty: royalty,
	}
}

// Initialize issues the full supply to the owner and opens trading.
// One-time, owner-only, Created phase only. taxNumerator sets the trade
// tax rate at taxNumerator/1000; decimals sets the share scale, for a
// total supply of 100 × 10^decimals.
func (x *Exchange) Initialize(_ context.Context, caller string, taxNumerator int64, decimals int32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.owner {
		return ErrNotOwner
	}
	if err := state.Check(state.OpInitialize, x.phase); err != nil {
		return err
	}
	tax, err := fees.NewTax(taxNumerator)
	if err != nil {
		return err
	}
	if decimals < 0 || decimals > 18 {
		return ErrInvalidAmount
	}

	x.tax = tax
	x.decimals = decimals
	x.shares.Mint(x.owner, decimal.NewFromInt(initialSupplyUnits).Shift(decimals))
	x.phase = state.Trading
	return nil
}

// Transfer moves free shares to another holder. Requires the configured
// royalty as attached fee; no tax applies to plain transfers. Legal in
// every phase except Created and PresaleOpen.
func (x *Exchange) Transfer(ctx context.Context, caller, to string, amount, fee decimal.Decimal) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := state.Check(state.OpTransfer, x.phase); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	r := x.royalty.Royalty()
	if !r.Covers(fee) {
		return fees.ErrInsufficientFee
	}
	if x.shares.BalanceOf(caller).LessThan(amount) {
		return ledger.ErrInsufficientShares
	}

	if err := x.side.Pay(ctx, caller, r.Recipient, r.Amount); err != nil {
		return err
	}
	return x.shares.Transfer(caller, to, amount)
}

// Terminate winds the instance down. Owner-only. From Created or Trading
// it closes the exchange outright; from PresaleOpen (target not reached)
// it moves to PresaleFailed so subscribers can withdraw their refunds.
func (x *Exchange) Terminate(_ context.Context, caller string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.owner {
		return ErrNotOwner
	}
	if err := state.Check(state.OpTerminate, x.phase); err != nil {
		return err
	}

	if x.phase == state.PresaleOpen {
		x.phase = state.PresaleFailed
	} else {
		x.phase = state.Terminated
	}
	return nil
}

// --- Read-only views ---

// Name returns the asset name.
func (x *Exchange) Name() string { return x.name }

// Symbol returns the raw ticker symbol.
func (x *Exchange) Symbol() string { return x.symbol }

// DisplaySymbol returns the share-denominated symbol, "% " + symbol.
func (x *Exchange) DisplaySymbol() string { return "% " + x.symbol }

// Owner returns the instance owner, fixed at creation.
func (x *Exchange) Owner() string { return x.owner }

// Account returns the engine escrow account on the settlement asset.
// Callers grant this account their pull allowance.
func (x *Exchange) Account() string { return x.account }

// Phase returns the current lifecycle phase.
func (x *Exchange) Phase() state.Phase {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.phase
}

// LastPrice returns the price of the most recently accepted order, zero
// before the first trade.
func (x *Exchange) LastPrice() decimal.Decimal {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.lastPrice
}

// TotalSupply returns the issued share total.
func (x *Exchange) TotalSupply() decimal.Decimal {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.shares.TotalSupply()
}

// Shares returns a holder's share count. During a presale (and after a
// failed one) this reports the recorded allocation: shares exist as
// subscriptions before they are minted.
func (x *Exchange) Shares(holder string) decimal.Decimal {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.presaleVisible() {
		return x.presale.allocations[holder]
	}
	return x.shares.BalanceOf(holder)
}

// Shareholders returns every holder in first-touch order. During a
// presale this is the subscriber registry.
func (x *Exchange) Shareholders() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.presaleVisible() {
		out := make([]string, len(x.presale.subscribers))
		copy(out, x.presale.subscribers)
		return out
	}
	return x.shares.Holders()
}

// Info returns the summary view of the instance.
func (x *Exchange) Info() model.Info {
	x.mu.Lock()
	defer x.mu.Unlock()

	return model.Info{
		Symbol:      x.symbol,
		Name:        x.name,
		Owner:       x.owner,
		Phase:       x.phase.String(),
		TaxRate:     x.tax.Numerator,
		Decimals:    x.decimals,
		TotalSupply: x.shares.TotalSupply(),
		LastPrice:   x.lastPrice,
	}
}

// presaleVisible reports whether share views should read the presale
// record instead of the minted ledger. Callers hold x.mu.
func (x *Exchange) presaleVisible() bool {
	return x.presale != nil && (x.phase == state.PresaleOpen || x.phase == state.PresaleFailed)
}

// Snapshot captures the full instance state for persistence.
func (x *Exchange) Snapshot() model.Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	snap := model.Snapshot{
		Symbol:      x.symbol,
		Name:        x.name,
		Owner:       x.owner,
		Phase:       x.phase.String(),
		TaxRate:     x.tax.Numerator,
		Decimals:    x.decimals,
		TotalSupply: x.shares.TotalSupply(),
		LastPrice:   x.lastPrice,
		Balances:    x.shares.Balances(),
		Escrows:     x.shares.Escrows(),
		Holders:     x.shares.Holders(),
		Orders:      x.ordersLocked(),
		UpdatedAt:   time.Now().UTC(),
	}
	if x.presale != nil {
		snap.Presale = x.presale.state()
	}
	return snap
}

// FromSnapshot rebuilds an instance from persisted state, rewiring the
// external collaborators. The escrow account is regenerated; settlement
// balances held there are not part of the snapshot.
func FromSnapshot(snap model.Snapshot, asset payment.Asset, side payment.SideChannel, royalty fees.Provider) (*Exchange, error) {
	phase, ok := state.ParsePhase(snap.Phase)
	if !ok {
		return nil, errors.New("exchange: unknown phase in snapshot")
	}

	x := New(snap.Name, snap.Symbol, snap.Owner, asset, side, royalty)
	x.phase = phase
	x.tax = fees.Tax{Numerator: snap.TaxRate, Scale: fees.TaxScale}
	x.decimals = snap.Decimals
	x.lastPrice = snap.LastPrice
	x.shares = ledger.Restore(snap.Balances, snap.Escrows, snap.Holders, snap.TotalSupply)
	for i := range snap.Orders {
		o := snap.Orders[i]
		x.orders[o.Owner] = &o
		x.queue = append(x.queue, o.Owner)
	}
	if snap.Presale != nil {
		x.presale = restorePresale(snap.Presale)
	}
	return x, nil
}
