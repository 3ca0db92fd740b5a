package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/ledger"
	"github.com/sharebook/exchange-engine/internal/model"
	"github.com/sharebook/exchange-engine/internal/state"
)

// presaleRecord tracks a capped fixed-price subscription window. It
// exists from InitializePresale until the presale either finalizes
// (subscriptions minted, proceeds released) or fails and is fully
// refunded through Withdraw.
type presaleRecord struct {
	target decimal.Decimal // total shares to place
	price  decimal.Decimal // settlement value per share

	// start/end bound the subscription window. They are recorded and
	// surfaced but not enforced against a wall clock; see DESIGN.md.
	start time.Time
	end   time.Time

	subscribed  decimal.Decimal
	allocations map[string]decimal.Decimal
	subscribers []string // first-purchase order
}

func (p *presaleRecord) state() *model.PresaleState {
	allocs := make(map[string]decimal.Decimal, len(p.allocations))
	for h, a := range p.allocations {
		allocs[h] = a
	}
	subs := make([]string, len(p.subscribers))
	copy(subs, p.subscribers)
	return &model.PresaleState{
		Target:      p.target,
		Price:       p.price,
		Start:       p.start,
		End:         p.end,
		Subscribed:  p.subscribed,
		Allocations: allocs,
		Subscribers: subs,
	}
}

func restorePresale(s *model.PresaleState) *presaleRecord {
	p := &presaleRecord{
		target:      s.Target,
		price:       s.Price,
		start:       s.Start,
		end:         s.End,
		subscribed:  s.Subscribed,
		allocations: make(map[string]decimal.Decimal, len(s.Allocations)),
		subscribers: append([]string(nil), s.Subscribers...),
	}
	for h, a := range s.Allocations {
		p.allocations[h] = a
	}
	return p
}

// InitializePresale opens a capped fixed-price subscription window
// instead of immediate issuance. One-time, owner-only, Created phase
// only, mutually exclusive with Initialize. The presale places
// target × 10^decimals shares at price per share.
func (x *Exchange) InitializePresale(_ context.Context, caller string, target int64, decimals int32, price decimal.Decimal, start, end time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.owner {
		return ErrNotOwner
	}
	if err := state.Check(state.OpInitializePresale, x.phase); err != nil {
		return err
	}
	if target <= 0 || !price.IsPositive() {
		return ErrInvalidAmount
	}
	if decimals < 0 || decimals > 18 {
		return ErrInvalidAmount
	}

	x.decimals = decimals
	x.presale = &presaleRecord{
		target:      decimal.NewFromInt(target).Shift(decimals),
		price:       price,
		start:       start,
		end:         end,
		allocations: make(map[string]decimal.Decimal),
	}
	x.phase = state.PresaleOpen
	return nil
}

// Purchase subscribes the caller for amount shares at the presale price,
// pulling amount × price from their settlement balance. No tax applies
// during presale. Reaching the target finalizes in the same call: every
// allocation is minted, the phase moves to PresaleFinished, and the
// accumulated proceeds are released to the owner.
func (x *Exchange) Purchase(ctx context.Context, caller string, amount decimal.Decimal) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := state.Check(state.OpPurchase, x.phase); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p := x.presale
	if amount.GreaterThan(p.target.Sub(p.subscribed)) {
		return ledger.ErrInsufficientShares
	}

	cost := amount.Mul(p.price)
	if err := x.asset.TransferFrom(ctx, x.account, caller, x.account, cost); err != nil {
		return err
	}

	if _, seen := p.allocations[caller]; !seen {
		p.subscribers = append(p.subscribers, caller)
	}
	p.allocations[caller] = p.allocations[caller].Add(amount)
	p.subscribed = p.subscribed.Add(amount)

	if p.subscribed.Equal(p.target) {
		return x.finalizePresale(ctx)
	}
	return nil
}

// finalizePresale mints every recorded allocation, opens trading-class
// operations, and releases the proceeds to the owner. Callers hold x.mu.
func (x *Exchange) finalizePresale(ctx context.Context) error {
	p := x.presale
	for _, sub := range p.subscribers {
		x.shares.Mint(sub, p.allocations[sub])
	}
	x.phase = state.PresaleFinished

	// Payout from the engine's own account; cannot fail while the
	// pulled proceeds are conserved there.
	return x.asset.Transfer(ctx, x.account, x.owner, p.subscribed.Mul(p.price))
}

// Withdraw refunds the caller's full recorded presale payment after a
// failed presale and zeroes their allocation. After a successful
// presale it fails with ErrPresaleClosed: the shares were issued and no
// refund is owed.
func (x *Exchange) Withdraw(ctx context.Context, caller string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := state.Check(state.OpWithdraw, x.phase); err != nil {
		if x.phase == state.PresaleFinished || x.phase == state.Trading {
			return ErrPresaleClosed
		}
		return err
	}

	p := x.presale
	allocation := p.allocations[caller]
	if !allocation.IsPositive() {
		return ErrNothingToWithdraw
	}

	refund := allocation.Mul(p.price)
	delete(p.allocations, caller)
	p.subscribed = p.subscribed.Sub(allocation)
	for i, sub := range p.subscribers {
		if sub == caller {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			break
		}
	}

	return x.asset.Transfer(ctx, x.account, caller, refund)
}

// PresaleInfo returns the current presale record, or nil when no
// presale exists.
func (x *Exchange) PresaleInfo() *model.PresaleState {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.presale == nil {
		return nil
	}
	return x.presale.state()
}
