package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/fees"
	"github.com/sharebook/exchange-engine/internal/ledger"
	"github.com/sharebook/exchange-engine/internal/payment"
	"github.com/sharebook/exchange-engine/internal/state"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fixedRoyalty is a static fees.Provider for tests.
type fixedRoyalty struct {
	r fees.Royalty
}

func (f fixedRoyalty) Royalty() fees.Royalty { return f.r }

const royaltyAmount = 7

type env struct {
	asset *payment.MemoryAsset
	side  *payment.MemorySideChannel
	x     *Exchange
}

func newEnv(t *testing.T) *env {
	t.Helper()
	asset := payment.NewMemoryAsset()
	side := payment.NewMemorySideChannel()
	royalty := fixedRoyalty{fees.Royalty{Amount: d(royaltyAmount), Recipient: "platform"}}
	return &env{
		asset: asset,
		side:  side,
		x:     New("Acme Rights", "ACME", "owner", asset, side, royalty),
	}
}

// fund gives an account plenty of settlement value and royalty budget,
// with a full pull allowance toward the engine escrow account.
func (e *env) fund(account string, amount float64) {
	e.asset.Fund(account, d(amount))
	e.asset.Approve(account, e.x.Account(), d(amount))
	e.side.Fund(account, d(1000))
}

func (e *env) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	b, err := e.asset.BalanceOf(context.Background(), account)
	if err != nil {
		t.Fatalf("balance of %s: %v", account, err)
	}
	return b
}

// newTradingEnv initializes with the given tax numerator and zero
// decimals, so total supply is 100 shares held by the owner.
func newTradingEnv(t *testing.T, taxNumerator int64) *env {
	t.Helper()
	e := newEnv(t)
	e.side.Fund("owner", d(1000))
	if err := e.x.Initialize(context.Background(), "owner", taxNumerator, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return e
}

func TestInitialize(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.x.Initialize(ctx, "owner", 100, 2); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if e.x.Phase() != state.Trading {
		t.Errorf("phase = %s, want %s", e.x.Phase(), state.Trading)
	}
	if !e.x.TotalSupply().Equal(d(10000)) {
		t.Errorf("supply = %s, want 10000 (100 units at 2 decimals)", e.x.TotalSupply())
	}
	if !e.x.Shares("owner").Equal(d(10000)) {
		t.Errorf("owner shares = %s, want full supply", e.x.Shares("owner"))
	}

	// One-time: a second initialize is a state violation.
	if err := e.x.Initialize(ctx, "owner", 100, 2); err != state.ErrNotAvailable {
		t.Errorf("second initialize: got %v, want ErrNotAvailable", err)
	}
}

func TestInitialize_OwnerOnly(t *testing.T) {
	e := newEnv(t)
	if err := e.x.Initialize(context.Background(), "mallory", 100, 0); err != ErrNotOwner {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
	if e.x.Phase() != state.Created {
		t.Errorf("phase moved to %s on rejected initialize", e.x.Phase())
	}
}

func TestInitialize_InvalidTax(t *testing.T) {
	e := newEnv(t)
	if err := e.x.Initialize(context.Background(), "owner", 1001, 0); err != fees.ErrInvalidTax {
		t.Errorf("got %v, want ErrInvalidTax", err)
	}
}

func TestSellAndAccept_FullSettlement(t *testing.T) {
	// Owner holding 100 shares lists 50 at price 5000 with a 10% tax.
	// Three buyers take 10, 20 and 20. The owner is both seller and tax
	// recipient, so their settlement balance grows by 50×5000×1.10.
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	for _, b := range []string{"b1", "b2", "b3"} {
		e.fund(b, 200000)
	}

	if err := e.x.Sell(ctx, "owner", d(5000), d(50)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	// Listed shares are escrowed, not free.
	if !e.x.Shares("owner").Equal(d(50)) {
		t.Errorf("owner free shares = %s, want 50", e.x.Shares("owner"))
	}

	fills := []struct {
		buyer  string
		amount float64
	}{
		{"b1", 10}, {"b2", 20}, {"b3", 20},
	}
	for _, f := range fills {
		trade, err := e.x.Accept(ctx, f.buyer, "owner", d(f.amount), d(royaltyAmount))
		if err != nil {
			t.Fatalf("accept by %s: %v", f.buyer, err)
		}
		wantTax := d(f.amount * 5000 * 0.10)
		if !trade.Tax.Equal(wantTax) {
			t.Errorf("%s trade tax = %s, want %s", f.buyer, trade.Tax, wantTax)
		}
	}

	if !e.balance(t, "owner").Equal(d(275000)) {
		t.Errorf("owner settlement balance = %s, want 275000", e.balance(t, "owner"))
	}
	// Each buyer paid principal plus 10% tax.
	if !e.balance(t, "b1").Equal(d(200000 - 55000)) {
		t.Errorf("b1 balance = %s, want 145000", e.balance(t, "b1"))
	}
	if !e.x.Shares("b1").Equal(d(10)) || !e.x.Shares("b2").Equal(d(20)) || !e.x.Shares("b3").Equal(d(20)) {
		t.Errorf("buyer shares = %s/%s/%s, want 10/20/20",
			e.x.Shares("b1"), e.x.Shares("b2"), e.x.Shares("b3"))
	}

	// Order fully consumed and the last trade set the reference price.
	if len(e.x.Orders()) != 0 {
		t.Errorf("orders remaining: %v", e.x.Orders())
	}
	if !e.x.LastPrice().Equal(d(5000)) {
		t.Errorf("last price = %s, want 5000", e.x.LastPrice())
	}
	// Royalty went through the side channel, one per accept.
	if !e.side.BalanceOf("platform").Equal(d(3 * royaltyAmount)) {
		t.Errorf("platform royalty = %s, want %d", e.side.BalanceOf("platform"), 3*royaltyAmount)
	}
}

func TestBuy_EscrowAndCancel(t *testing.T) {
	// A buy order for 10 shares at price 10 with a 10% tax locks
	// 10×10×1.10 = 110; cancelling returns exactly 110.
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.fund("buyer", 500)

	if err := e.x.Buy(ctx, "buyer", d(10), d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !e.balance(t, "buyer").Equal(d(390)) {
		t.Errorf("buyer balance after escrow = %s, want 390", e.balance(t, "buyer"))
	}
	if !e.balance(t, e.x.Account()).Equal(d(110)) {
		t.Errorf("engine escrow = %s, want 110", e.balance(t, e.x.Account()))
	}

	if err := e.x.Cancel(ctx, "buyer"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !e.balance(t, "buyer").Equal(d(500)) {
		t.Errorf("buyer balance after cancel = %s, want exactly 500", e.balance(t, "buyer"))
	}
	if err := e.x.Cancel(ctx, "buyer"); err != ErrNoActiveOrder {
		t.Errorf("second cancel: got %v, want ErrNoActiveOrder", err)
	}
}

func TestAcceptBuy_FinalFillSweepsEscrow(t *testing.T) {
	// Per-fill tax rounds down, so partial fills can leave residue in
	// the buy escrow. The final fill takes escrow − principal as tax,
	// leaving exactly zero behind.
	//
	// price 3, amount 7, 10% tax: escrow = 21 + floor(2.1) = 23.
	// Fill 3: principal 9, tax floor(0.9) = 0, escrow left 14.
	// Fill 4: principal 12, tax = 14 − 12 = 2.
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.fund("buyer", 100)
	e.side.Fund("seller", d(100))

	// Seller gets shares from the owner first.
	if err := e.x.Transfer(ctx, "owner", "seller", d(7), d(royaltyAmount)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := e.x.Buy(ctx, "buyer", d(3), d(7)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !e.balance(t, e.x.Account()).Equal(d(23)) {
		t.Fatalf("escrow = %s, want 23", e.balance(t, e.x.Account()))
	}

	trade, err := e.x.Accept(ctx, "seller", "buyer", d(3), d(royaltyAmount))
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if !trade.Tax.IsZero() {
		t.Errorf("first fill tax = %s, want 0", trade.Tax)
	}

	trade, err = e.x.Accept(ctx, "seller", "buyer", d(4), d(royaltyAmount))
	if err != nil {
		t.Fatalf("final fill: %v", err)
	}
	if !trade.Tax.Equal(d(2)) {
		t.Errorf("final fill tax = %s, want 2 (swept residue)", trade.Tax)
	}

	// Escrow fully disbursed: seller got 21 principal, owner 2 tax.
	if !e.balance(t, e.x.Account()).IsZero() {
		t.Errorf("engine escrow left over: %s", e.balance(t, e.x.Account()))
	}
	if !e.balance(t, "seller").Equal(d(21)) {
		t.Errorf("seller balance = %s, want 21", e.balance(t, "seller"))
	}
	if !e.balance(t, "owner").Equal(d(2)) {
		t.Errorf("owner tax = %s, want 2", e.balance(t, "owner"))
	}
	if !e.x.Shares("buyer").Equal(d(7)) {
		t.Errorf("buyer shares = %s, want 7", e.x.Shares("buyer"))
	}
}

func TestSingleOrderPerHolder(t *testing.T) {
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.fund("buyer", 1000)

	if err := e.x.Sell(ctx, "owner", d(10), d(5)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if err := e.x.Sell(ctx, "owner", d(20), d(5)); err != ErrActiveOrder {
		t.Errorf("second sell: got %v, want ErrActiveOrder", err)
	}
	if err := e.x.Buy(ctx, "owner", d(10), d(5)); err != ErrActiveOrder {
		t.Errorf("buy with active sell: got %v, want ErrActiveOrder", err)
	}

	if err := e.x.Buy(ctx, "buyer", d(10), d(5)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := e.x.Buy(ctx, "buyer", d(10), d(5)); err != ErrActiveOrder {
		t.Errorf("second buy: got %v, want ErrActiveOrder", err)
	}

	// Cancel frees the slot.
	if err := e.x.Cancel(ctx, "owner"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := e.x.Sell(ctx, "owner", d(20), d(5)); err != nil {
		t.Errorf("sell after cancel: %v", err)
	}
}

func TestAccept_Validation(t *testing.T) {
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.fund("buyer", 1000)

	if _, err := e.x.Accept(ctx, "buyer", "owner", d(1), d(royaltyAmount)); err != ErrNoActiveOrder {
		t.Errorf("accept without order: got %v, want ErrNoActiveOrder", err)
	}

	if err := e.x.Sell(ctx, "owner", d(10), d(5)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := e.x.Accept(ctx, "buyer", "owner", d(6), d(royaltyAmount)); err != ledger.ErrInsufficientShares {
		t.Errorf("oversized accept: got %v, want ErrInsufficientShares", err)
	}
	if _, err := e.x.Accept(ctx, "buyer", "owner", d(1), d(royaltyAmount-1)); err != fees.ErrInsufficientFee {
		t.Errorf("underpaid fee: got %v, want ErrInsufficientFee", err)
	}
	if _, err := e.x.Accept(ctx, "buyer", "owner", d(0), d(royaltyAmount)); err != ErrInvalidAmount {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestAcceptSell_AtomicOnInsufficientAllowance(t *testing.T) {
	// 10 shares at price 100 with 10% tax costs 1100; the buyer's
	// allowance covers only the 1000 principal. The accept must fail
	// with nothing moved — no principal, no tax, no royalty, no shares.
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.asset.Fund("buyer", d(2000))
	e.asset.Approve("buyer", e.x.Account(), d(1000))
	e.side.Fund("buyer", d(1000))

	if err := e.x.Sell(ctx, "owner", d(100), d(10)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := e.x.Accept(ctx, "buyer", "owner", d(10), d(royaltyAmount)); err != payment.ErrInsufficientAllowance {
		t.Fatalf("accept: got %v, want ErrInsufficientAllowance", err)
	}

	if !e.balance(t, "buyer").Equal(d(2000)) {
		t.Errorf("buyer balance = %s, want untouched 2000", e.balance(t, "buyer"))
	}
	if !e.balance(t, "owner").IsZero() {
		t.Errorf("owner received %s on a failed accept", e.balance(t, "owner"))
	}
	if !e.side.BalanceOf("platform").IsZero() {
		t.Errorf("royalty %s credited on a failed accept", e.side.BalanceOf("platform"))
	}
	if !e.x.Shares("buyer").IsZero() {
		t.Errorf("buyer got %s shares on a failed accept", e.x.Shares("buyer"))
	}
	orders := e.x.Orders()
	if len(orders) != 1 || !orders[0].Amount.Equal(d(10)) {
		t.Errorf("order mutated on a failed accept: %+v", orders)
	}
}

func TestAcceptSell_AtomicOnRoyaltyFailure(t *testing.T) {
	// Settlement funds in place but no side-channel budget: the pulled
	// principal+tax is handed back and nothing settles.
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.asset.Fund("buyer", d(2000))
	e.asset.Approve("buyer", e.x.Account(), d(2000))

	if err := e.x.Sell(ctx, "owner", d(100), d(10)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := e.x.Accept(ctx, "buyer", "owner", d(10), d(royaltyAmount)); err != payment.ErrInsufficientBalance {
		t.Fatalf("accept: got %v, want ErrInsufficientBalance", err)
	}

	if !e.balance(t, "buyer").Equal(d(2000)) {
		t.Errorf("buyer balance = %s, want refunded 2000", e.balance(t, "buyer"))
	}
	if !e.balance(t, e.x.Account()).IsZero() {
		t.Errorf("engine account kept %s on a failed accept", e.balance(t, e.x.Account()))
	}
	if !e.x.Shares("buyer").IsZero() {
		t.Errorf("buyer got %s shares on a failed accept", e.x.Shares("buyer"))
	}
}

// payoutFailingAsset fails engine-account payouts while leaving pulls
// working.
type payoutFailingAsset struct {
	*payment.MemoryAsset
	err error
}

func (a *payoutFailingAsset) Transfer(context.Context, string, string, decimal.Decimal) error {
	return a.err
}

func TestPurchase_FinalizePayoutErrorPropagates(t *testing.T) {
	errDown := errors.New("settlement ledger unavailable")
	base := payment.NewMemoryAsset()
	asset := &payoutFailingAsset{MemoryAsset: base, err: errDown}
	side := payment.NewMemorySideChannel()
	x := New("Acme Rights", "ACME", "owner", asset, side,
		fixedRoyalty{fees.Royalty{Amount: d(royaltyAmount), Recipient: "platform"}})

	ctx := context.Background()
	now := time.Now().UTC()
	if err := x.InitializePresale(ctx, "owner", 100, 0, d(10), now, now.Add(time.Hour)); err != nil {
		t.Fatalf("initialize presale: %v", err)
	}
	base.Fund("alice", d(2000))
	base.Approve("alice", x.Account(), d(2000))

	// The target-hitting purchase finalizes; the stuck owner payout
	// must surface, not vanish.
	if err := x.Purchase(ctx, "alice", d(100)); !errors.Is(err, errDown) {
		t.Fatalf("purchase: got %v, want the payout error", err)
	}
	if x.Phase() != state.PresaleFinished {
		t.Errorf("phase = %s, want %s", x.Phase(), state.PresaleFinished)
	}
}

func TestTransfer(t *testing.T) {
	e := newTradingEnv(t, 100)
	ctx := context.Background()

	if err := e.x.Transfer(ctx, "owner", "alice", d(30), d(royaltyAmount)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !e.x.Shares("alice").Equal(d(30)) {
		t.Errorf("alice shares = %s, want 30", e.x.Shares("alice"))
	}
	// No tax on plain transfers; only the royalty moved, via the side channel.
	if !e.side.BalanceOf("platform").Equal(d(royaltyAmount)) {
		t.Errorf("platform royalty = %s, want %d", e.side.BalanceOf("platform"), royaltyAmount)
	}

	if err := e.x.Transfer(ctx, "owner", "alice", d(30), d(0)); err != fees.ErrInsufficientFee {
		t.Errorf("underpaid fee: got %v, want ErrInsufficientFee", err)
	}
	if err := e.x.Transfer(ctx, "alice", "bob", d(31), d(royaltyAmount)); err != ledger.ErrInsufficientShares {
		t.Errorf("overdrawn transfer: got %v, want ErrInsufficientShares", err)
	}
}

func TestTerminate(t *testing.T) {
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.side.Fund("alice", d(100))

	if err := e.x.Terminate(ctx, "mallory"); err != ErrNotOwner {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
	if err := e.x.Terminate(ctx, "owner"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if e.x.Phase() != state.Terminated {
		t.Errorf("phase = %s, want %s", e.x.Phase(), state.Terminated)
	}

	// Transfers remain legal after termination; new orders do not.
	if err := e.x.Transfer(ctx, "owner", "alice", d(10), d(royaltyAmount)); err != nil {
		t.Errorf("transfer after terminate: %v", err)
	}
	if err := e.x.Sell(ctx, "owner", d(10), d(5)); err != state.ErrNotAvailable {
		t.Errorf("sell after terminate: got %v, want ErrNotAvailable", err)
	}
}

func TestCancel_AfterTerminate(t *testing.T) {
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.fund("buyer", 500)

	if err := e.x.Buy(ctx, "buyer", d(10), d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := e.x.Terminate(ctx, "owner"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	// The locked 110 comes back even after the exchange is closed.
	if err := e.x.Cancel(ctx, "buyer"); err != nil {
		t.Fatalf("cancel after terminate: %v", err)
	}
	if !e.balance(t, "buyer").Equal(d(500)) {
		t.Errorf("buyer balance = %s, want 500", e.balance(t, "buyer"))
	}
}

func TestOrders_CreationOrder(t *testing.T) {
	e := newTradingEnv(t, 0)
	ctx := context.Background()
	e.fund("b1", 1000)
	e.fund("b2", 1000)

	e.x.Sell(ctx, "owner", d(10), d(5))
	e.x.Buy(ctx, "b1", d(9), d(2))
	e.x.Buy(ctx, "b2", d(8), d(3))

	orders := e.x.Orders()
	if len(orders) != 3 {
		t.Fatalf("got %d orders, want 3", len(orders))
	}
	wantOwners := []string{"owner", "b1", "b2"}
	for i, o := range orders {
		if o.Owner != wantOwners[i] {
			t.Errorf("orders[%d].Owner = %s, want %s", i, o.Owner, wantOwners[i])
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newTradingEnv(t, 100)
	ctx := context.Background()
	e.fund("buyer", 1000)

	e.x.Transfer(ctx, "owner", "alice", d(25), d(royaltyAmount))
	e.x.Sell(ctx, "owner", d(5000), d(10))
	e.x.Buy(ctx, "buyer", d(10), d(10))
	e.x.Accept(ctx, "buyer2", "owner", d(1), d(royaltyAmount)) // fails, no funds — state untouched

	snap := e.x.Snapshot()
	restored, err := FromSnapshot(snap, e.asset, e.side, fixedRoyalty{fees.Royalty{Amount: d(royaltyAmount), Recipient: "platform"}})
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}

	if restored.Phase() != e.x.Phase() {
		t.Errorf("phase = %s, want %s", restored.Phase(), e.x.Phase())
	}
	if !restored.TotalSupply().Equal(e.x.TotalSupply()) {
		t.Errorf("supply = %s, want %s", restored.TotalSupply(), e.x.TotalSupply())
	}
	if !restored.Shares("alice").Equal(d(25)) {
		t.Errorf("alice shares = %s, want 25", restored.Shares("alice"))
	}
	got, want := restored.Orders(), e.x.Orders()
	if len(got) != len(want) {
		t.Fatalf("orders = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Owner != want[i].Owner || !got[i].Escrow.Equal(want[i].Escrow) {
			t.Errorf("orders[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// The restored instance stays functional: the buy order can still
	// be cancelled against the original escrow balance.
	e.asset.Fund(restored.Account(), d(110))
	if err := restored.Cancel(ctx, "buyer"); err != nil {
		t.Errorf("cancel on restored instance: %v", err)
	}
}
