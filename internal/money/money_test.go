package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse(t *testing.T) {
	m, err := Parse("99.90", "EUR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.String() != "99.9 EUR" {
		t.Fatalf("unexpected value: %s", m)
	}

	if _, err := Parse("not-a-number", "EUR"); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("10.50", "USD")
	b := MustParse("2.25", "USD")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.String() != "12.75 USD" {
		t.Fatalf("unexpected sum: %s", sum)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff.String() != "8.25 USD" {
		t.Fatalf("unexpected difference: %s", diff)
	}

	if got := a.MulInt(3); got.String() != "31.5 USD" {
		t.Fatalf("unexpected product: %s", got)
	}
	if got := a.MulDecimal(decimal.RequireFromString("0.5")); got.String() != "5.25 USD" {
		t.Fatalf("unexpected product: %s", got)
	}
}

func TestCurrencyMismatch(t *testing.T) {
	usd := MustParse("1", "USD")
	eur := MustParse("1", "EUR")

	if _, err := usd.Add(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if _, err := usd.Sub(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if _, err := usd.Cmp(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestCmp(t *testing.T) {
	a := MustParse("5", "USD")
	b := MustParse("7", "USD")

	got, err := a.Cmp(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
	got, err = b.Cmp(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestFloorInt64(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"99.99", 99},
		{"100.00", 100},
		{"-3.7", -3}, // truncation toward zero
	}
	for _, tt := range tests {
		m := MustParse(tt.amount, "USD")
		if got := m.FloorInt64(); got != tt.want {
			t.Errorf("FloorInt64(%s) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestPredicates(t *testing.T) {
	if !Zero("USD").IsZero() {
		t.Fatal("expected zero to be zero")
	}
	if Zero("USD").IsNegative() {
		t.Fatal("expected zero not to be negative")
	}
	if !MustParse("-0.01", "USD").IsNegative() {
		t.Fatal("expected negative amount to be negative")
	}
}
