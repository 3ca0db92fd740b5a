package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/fees"
	"github.com/sharebook/exchange-engine/internal/ledger"
	"github.com/sharebook/exchange-engine/internal/model"
	"github.com/sharebook/exchange-engine/internal/state"
)

// Sell creates a resting sell order at a fixed price. The listed shares
// move from the caller's free balance into escrow; they stay owned by
// the seller but cannot be transferred or listed again until the order
// is consumed or cancelled.
func (x *Exchange) Sell(_ context.Context, caller string, price, amount decimal.Decimal) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := state.Check(state.OpSell, x.phase); err != nil {
		return err
	}
	if !price.IsPositive() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, exists := x.orders[caller]; exists {
		return ErrActiveOrder
	}
	if err := x.shares.Lock(caller, amount); err != nil {
		return err
	}

	x.putOrder(&model.Order{
		Owner:     caller,
		Side:      model.SideSell,
		Price:     price,
		Amount:    amount,
		Escrow:    decimal.Zero,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Buy creates a resting buy order. The full payment — amount × price
// plus tax — is pulled from the caller's settlement balance into the
// engine escrow account up front.
func (x *Exchange) Buy(ctx context.Context, caller string, price, amount decimal.Decimal) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := state.Check(state.OpBuy, x.phase); err != nil {
		return err
	}
	if !price.IsPositive() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, exists := x.orders[caller]; exists {
		return ErrActiveOrder
	}

	escrow := x.tax.AddTo(amount.Mul(price))
	if err := x.asset.TransferFrom(ctx, x.account, caller, x.account, escrow); err != nil {
		return err
	}

	x.putOrder(&model.Order{
		Owner:     caller,
		Side:      model.SideBuy,
		Price:     price,
		Amount:    amount,
		Escrow:    escrow,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Accept fills (part of) the resting order owned by holder at the
// order's fixed price, and requires the platform royalty as attached
// fee. Accepting a sell order pays principal plus tax from the caller
// (principal to the seller, tax to the exchange owner) and delivers the
// shares out of the seller's escrow. Accepting a buy order delivers the
// caller's free shares to the buyer and pays the caller the principal
// out of the buyer's pre-escrowed funds, tax portion to the owner.
func (x *Exchange) Accept(ctx context.Context, caller, holder string, amount, fee decimal.Decimal) (model.TradeEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := state.Check(state.OpAccept, x.phase); err != nil {
		return model.TradeEntry{}, err
	}
	if !amount.IsPositive() {
		return model.TradeEntry{}, ErrInvalidAmount
	}
	order, exists := x.orders[holder]
	if !exists {
		return model.TradeEntry{}, ErrNoActiveOrder
	}
	if order.Amount.LessThan(amount) {
		return model.TradeEntry{}, ledger.ErrInsufficientShares
	}
	r := x.royalty.Royalty()
	if !r.Covers(fee) {
		return model.TradeEntry{}, fees.ErrInsufficientFee
	}

	principal := amount.Mul(order.Price)
	var taxAmt decimal.Decimal

	switch order.Side {
	case model.SideSell:
		taxAmt = x.tax.On(principal)
		total := principal.Add(taxAmt)

		// One pull covering principal plus tax, into the engine
		// account: either the caller funds the whole fill or nothing
		// moves.
		if err := x.asset.TransferFrom(ctx, x.account, caller, x.account, total); err != nil {
			return model.TradeEntry{}, err
		}
		if err := x.side.Pay(ctx, caller, r.Recipient, r.Amount); err != nil {
			// Hand the pull back; a failed accept settles nothing.
			if rerr := x.asset.Transfer(ctx, x.account, caller, total); rerr != nil {
				return model.TradeEntry{}, rerr
			}
			return model.TradeEntry{}, err
		}
		if err := x.shares.Settle(holder, caller, amount); err != nil {
			return model.TradeEntry{}, err
		}

		// Disburse from the engine's own account; cannot fail while
		// conservation holds.
		if err := x.asset.Transfer(ctx, x.account, holder, principal); err != nil {
			return model.TradeEntry{}, err
		}
		if err := x.asset.Transfer(ctx, x.account, x.owner, taxAmt); err != nil {
			return model.TradeEntry{}, err
		}

	case model.SideBuy:
		// The accepting caller is the selling party here.
		if x.shares.BalanceOf(caller).LessThan(amount) {
			return model.TradeEntry{}, ledger.ErrInsufficientShares
		}

		// A fully consumed escrow is fully disbursed: the final fill
		// sweeps whatever escrow remains beyond the principal as tax,
		// absorbing per-fill floor rounding.
		if amount.Equal(order.Amount) {
			taxAmt = order.Escrow.Sub(principal)
		} else {
			taxAmt = x.tax.On(principal)
		}

		if err := x.side.Pay(ctx, caller, r.Recipient, r.Amount); err != nil {
			return model.TradeEntry{}, err
		}
		if err := x.shares.Transfer(caller, holder, amount); err != nil {
			return model.TradeEntry{}, err
		}
		order.Escrow = order.Escrow.Sub(principal).Sub(taxAmt)

		// Payouts come from the engine's own escrow account and cannot
		// fail while conservation holds.
		if err := x.asset.Transfer(ctx, x.account, caller, principal); err != nil {
			return model.TradeEntry{}, err
		}
		if err := x.asset.Transfer(ctx, x.account, x.owner, taxAmt); err != nil {
			return model.TradeEntry{}, err
		}
	}

	order.Amount = order.Amount.Sub(amount)
	if order.Amount.IsZero() {
		x.removeOrder(holder)
	}
	x.lastPrice = order.Price

	return model.TradeEntry{
		ID:        uuid.New().String(),
		Symbol:    x.symbol,
		Maker:     holder,
		Taker:     caller,
		Side:      order.Side,
		Price:     order.Price,
		Amount:    amount,
		Tax:       taxAmt,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Cancel removes the caller's resting order and returns its remaining
// escrow unchanged: shares back to the free balance for a sell order,
// settlement value back to the buyer for a buy order. No fee, no tax.
// Legal in any phase.
func (x *Exchange) Cancel(ctx context.Context, caller string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	order, exists := x.orders[caller]
	if !exists {
		return ErrNoActiveOrder
	}

	switch order.Side {
	case model.SideSell:
		if err := x.shares.Unlock(caller, order.Amount); err != nil {
			return err
		}
	case model.SideBuy:
		if err := x.asset.Transfer(ctx, x.account, caller, order.Escrow); err != nil {
			return err
		}
	}

	x.removeOrder(caller)
	return nil
}

// Orders returns all resting orders in creation order.
func (x *Exchange) Orders() []model.Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ordersLocked()
}

func (x *Exchange) ordersLocked() []model.Order {
	out := make([]model.Order, 0, len(x.queue))
	for _, owner := range x.queue {
		if o, ok := x.orders[owner]; ok {
			out = append(out, *o)
		}
	}
	return out
}

func (x *Exchange) putOrder(o *model.Order) {
	x.orders[o.Owner] = o
	x.queue = append(x.queue, o.Owner)
}

func (x *Exchange) removeOrder(owner string) {
	delete(x.orders, owner)
	for i, h := range x.queue {
		if h == owner {
			x.queue = append(x.queue[:i], x.queue[i+1:]...)
			break
		}
	}
}
