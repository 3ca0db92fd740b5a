package fees

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewTax_Valid(t *testing.T) {
	tax, err := NewTax(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tax.Numerator.Equal(d(100)) || tax.Scale != TaxScale {
		t.Errorf("unexpected tax: %+v", tax)
	}
}

func TestNewTax_OutOfRange(t *testing.T) {
	if _, err := NewTax(-1); err != ErrInvalidTax {
		t.Errorf("expected ErrInvalidTax for negative numerator, got %v", err)
	}
	if _, err := NewTax(1001); err != ErrInvalidTax {
		t.Errorf("expected ErrInvalidTax for numerator > 1000, got %v", err)
	}
}

func TestTaxOn_TenPercent(t *testing.T) {
	tax, _ := NewTax(100)

	tests := []struct {
		value, want float64
	}{
		{1000, 100},
		{50000, 5000},
		// Floor rounding: 10% of 101 is 10.1 → 10.
		{101, 10},
		{9, 0},
		{0, 0},
	}
	for _, tc := range tests {
		got := tax.On(d(tc.value))
		if !got.Equal(d(tc.want)) {
			t.Errorf("On(%v) = %s, want %v", tc.value, got, tc.want)
		}
	}
}

func TestTaxAddTo(t *testing.T) {
	tax, _ := NewTax(100)
	// 10 shares at price 10 with 10% tax → escrow 110.
	if got := tax.AddTo(d(100)); !got.Equal(d(110)) {
		t.Errorf("AddTo(100) = %s, want 110", got)
	}
}

func TestTaxZeroRate(t *testing.T) {
	tax, _ := NewTax(0)
	if got := tax.On(d(123456)); !got.IsZero() {
		t.Errorf("zero tax should be zero, got %s", got)
	}
}

func TestRoyaltyCovers(t *testing.T) {
	r := Royalty{Amount: d(10000000), Recipient: "platform"}
	if r.Covers(d(5000000)) {
		t.Error("half the royalty should not cover")
	}
	if !r.Covers(d(10000000)) {
		t.Error("exact royalty should cover")
	}
	if !r.Covers(d(20000000)) {
		t.Error("over-payment should cover")
	}
}
