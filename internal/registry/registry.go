// Package registry implements the instance-creation service: it issues
// new exchange instances, assigns their owners, charges the flat
// issuance fee, and owns the platform fee configuration (royalty amount
// and recipient) that every issued instance reads live.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/exchange"
	"github.com/sharebook/exchange-engine/internal/fees"
	"github.com/sharebook/exchange-engine/internal/payment"
)

var (
	// ErrNotRoot is returned when fee configuration is changed by
	// anyone but the registry root account.
	ErrNotRoot = errors.New("registry: caller is not the registry root")

	// ErrSymbolTaken is returned when the symbol is already registered.
	ErrSymbolTaken = errors.New("registry: symbol already registered")

	// ErrUnknownSymbol is returned by lookups for unregistered symbols.
	ErrUnknownSymbol = errors.New("registry: unknown symbol")

	// ErrInvalidIdentity is returned for malformed names or symbols.
	ErrInvalidIdentity = errors.New("registry: invalid name or symbol")
)

// symbolRegex constrains ticker symbols: 1-10 uppercase alphanumerics.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// Registry is the factory for exchange instances. It is safe for
// concurrent use.
type Registry struct {
	mu sync.RWMutex

	root string // account allowed to change fee configuration
	side payment.SideChannel

	royaltyAmount decimal.Decimal
	recipient     string
	issueFee      decimal.Decimal

	exchanges map[string]*exchange.Exchange
	symbols   []string // registration order
}

// New creates a registry. root controls the fee configuration; the
// side channel collects issuance fees and, later, per-trade royalties.
func New(root string, side payment.SideChannel) *Registry {
	return &Registry{
		root:      root,
		side:      side,
		recipient: root,
		exchanges: make(map[string]*exchange.Exchange),
	}
}

// Royalty implements fees.Provider: the live royalty configuration read
// by every issued instance at call time.
func (r *Registry) Royalty() fees.Royalty {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fees.Royalty{Amount: r.royaltyAmount, Recipient: r.recipient}
}

// Fee returns the current royalty amount and issuance fee.
func (r *Registry) Fee() (royalty, issueFee decimal.Decimal) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.royaltyAmount, r.issueFee
}

// SetFee updates the royalty and issuance fee amounts. Root only.
func (r *Registry) SetFee(caller string, royalty, issueFee decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.root {
		return ErrNotRoot
	}
	if royalty.IsNegative() || issueFee.IsNegative() {
		return fees.ErrInvalidTax
	}
	r.royaltyAmount = royalty
	r.issueFee = issueFee
	return nil
}

// SetRecipient updates the royalty recipient. Root only.
func (r *Registry) SetRecipient(caller, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.root {
		return ErrNotRoot
	}
	r.recipient = recipient
	return nil
}

// Issue creates a new exchange instance owned by the caller, settling
// against the given payment asset. The attached fee must cover the
// configured issuance fee, which is collected through the side channel
// and credited to the royalty recipient.
func (r *Registry) Issue(ctx context.Context, caller string, asset payment.Asset, name, symbol string, fee decimal.Decimal) (*exchange.Exchange, error) {
	if name == "" || !symbolRegex.MatchString(symbol) {
		return nil, fmt.Errorf("%w: %q / %q", ErrInvalidIdentity, name, symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.exchanges[symbol]; taken {
		return nil, fmt.Errorf("%w: %s", ErrSymbolTaken, symbol)
	}
	if fee.LessThan(r.issueFee) {
		return nil, fees.ErrInsufficientFee
	}
	if r.issueFee.IsPositive() {
		if err := r.side.Pay(ctx, caller, r.recipient, r.issueFee); err != nil {
			return nil, err
		}
	}

	x := exchange.New(name, symbol, caller, asset, r.side, r)
	r.exchanges[symbol] = x
	r.symbols = append(r.symbols, symbol)
	return x, nil
}

// Adopt registers an already-built instance (snapshot restore on boot).
func (r *Registry) Adopt(x *exchange.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.exchanges[x.Symbol()]; taken {
		return fmt.Errorf("%w: %s", ErrSymbolTaken, x.Symbol())
	}
	r.exchanges[x.Symbol()] = x
	r.symbols = append(r.symbols, x.Symbol())
	return nil
}

// Get returns the instance registered under symbol.
func (r *Registry) Get(symbol string) (*exchange.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	x, ok := r.exchanges[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return x, nil
}

// List returns all registered instances in registration order.
func (r *Registry) List() []*exchange.Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*exchange.Exchange, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.exchanges[s])
	}
	return out
}
