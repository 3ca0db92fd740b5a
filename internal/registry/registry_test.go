package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/fees"
	"github.com/sharebook/exchange-engine/internal/payment"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestRegistry(t *testing.T) (*Registry, *payment.MemorySideChannel, *payment.MemoryAsset) {
	t.Helper()
	side := payment.NewMemorySideChannel()
	r := New("root", side)
	if err := r.SetFee("root", d(7), d(100)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	return r, side, payment.NewMemoryAsset()
}

func TestSetFee_RootOnly(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if err := r.SetFee("mallory", d(1), d(1)); err != ErrNotRoot {
		t.Errorf("got %v, want ErrNotRoot", err)
	}
	if err := r.SetRecipient("mallory", "elsewhere"); err != ErrNotRoot {
		t.Errorf("got %v, want ErrNotRoot", err)
	}

	royalty, issue := r.Fee()
	if !royalty.Equal(d(7)) || !issue.Equal(d(100)) {
		t.Errorf("fee = %s/%s, want 7/100", royalty, issue)
	}
}

func TestIssue(t *testing.T) {
	r, side, asset := newTestRegistry(t)
	side.Fund("alice", d(500))

	x, err := r.Issue(context.Background(), "alice", asset, "Acme Rights", "ACME", d(100))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if x.Owner() != "alice" {
		t.Errorf("owner = %s, want alice", x.Owner())
	}
	if x.DisplaySymbol() != "% ACME" {
		t.Errorf("display symbol = %q, want %q", x.DisplaySymbol(), "% ACME")
	}
	// Issuance fee collected to the royalty recipient (root by default).
	if !side.BalanceOf("root").Equal(d(100)) {
		t.Errorf("root side balance = %s, want 100", side.BalanceOf("root"))
	}

	got, err := r.Get("ACME")
	if err != nil || got != x {
		t.Errorf("get = %v, %v", got, err)
	}
}

func TestIssue_Validation(t *testing.T) {
	r, side, asset := newTestRegistry(t)
	ctx := context.Background()
	side.Fund("alice", d(1000))

	cases := []struct {
		name, symbol string
	}{
		{"", "ACME"},
		{"Acme", "acme"},      // lowercase
		{"Acme", "TOOLONGSYM1"}, // 11 chars
		{"Acme", "AC-ME"},
		{"Acme", ""},
	}
	for _, c := range cases {
		if _, err := r.Issue(ctx, "alice", asset, c.name, c.symbol, d(100)); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("Issue(%q, %q): got %v, want ErrInvalidIdentity", c.name, c.symbol, err)
		}
	}

	if _, err := r.Issue(ctx, "alice", asset, "Acme", "ACME", d(99)); err != fees.ErrInsufficientFee {
		t.Errorf("underpaid issue: got %v, want ErrInsufficientFee", err)
	}

	if _, err := r.Issue(ctx, "alice", asset, "Acme", "ACME", d(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := r.Issue(ctx, "alice", asset, "Other", "ACME", d(100)); !errors.Is(err, ErrSymbolTaken) {
		t.Errorf("duplicate symbol: got %v, want ErrSymbolTaken", err)
	}
}

func TestIssue_UnfundedCaller(t *testing.T) {
	r, _, asset := newTestRegistry(t)

	if _, err := r.Issue(context.Background(), "pauper", asset, "Acme", "ACME", d(100)); err != payment.ErrInsufficientBalance {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	// The failed issue must not register the symbol.
	if _, err := r.Get("ACME"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("get after failed issue: got %v, want ErrUnknownSymbol", err)
	}
}

func TestRoyalty_LiveConfiguration(t *testing.T) {
	r, side, asset := newTestRegistry(t)
	side.Fund("alice", d(500))

	x, err := r.Issue(context.Background(), "alice", asset, "Acme", "ACME", d(100))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Issued instances read the registry's royalty at call time, so a
	// root update applies immediately.
	if err := r.SetFee("root", d(20), d(100)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := r.SetRecipient("root", "treasury"); err != nil {
		t.Fatalf("set recipient: %v", err)
	}
	side.Fund("alice", d(500))
	if err := x.Initialize(context.Background(), "alice", 100, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := x.Transfer(context.Background(), "alice", "bob", d(1), d(19)); err != fees.ErrInsufficientFee {
		t.Errorf("old fee amount: got %v, want ErrInsufficientFee", err)
	}
	if err := x.Transfer(context.Background(), "alice", "bob", d(1), d(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !side.BalanceOf("treasury").Equal(d(20)) {
		t.Errorf("treasury royalty = %s, want 20", side.BalanceOf("treasury"))
	}
}

func TestList_RegistrationOrder(t *testing.T) {
	r, side, asset := newTestRegistry(t)
	ctx := context.Background()
	side.Fund("alice", d(1000))

	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		if _, err := r.Issue(ctx, "alice", asset, "Asset "+sym, sym, d(100)); err != nil {
			t.Fatalf("issue %s: %v", sym, err)
		}
	}

	list := r.List()
	want := []string{"AAA", "BBB", "CCC"}
	if len(list) != len(want) {
		t.Fatalf("list has %d entries, want %d", len(list), len(want))
	}
	for i, x := range list {
		if x.Symbol() != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, x.Symbol(), want[i])
		}
	}
}
