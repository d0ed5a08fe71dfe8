package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLineAmountsWithoutTax(t *testing.T) {
	line := LineAmounts(decimal.NewFromInt(100), 2, false)
	if !line.Subtotal.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected subtotal 200, got %s", line.Subtotal)
	}
	if !line.Tax.IsZero() || !line.RateApplied.IsZero() {
		t.Fatalf("expected no tax, got %s at %s", line.Tax, line.RateApplied)
	}
	if !line.Total.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected total 200, got %s", line.Total)
	}
}

func TestLineAmountsWithFlatVAT(t *testing.T) {
	line := LineAmounts(decimal.RequireFromString("10.55"), 3, true)

	if !line.Subtotal.Equal(decimal.RequireFromString("31.65")) {
		t.Fatalf("expected subtotal 31.65, got %s", line.Subtotal)
	}
	// 31.65 * 0.19 = 6.0135
	if !line.Tax.Equal(decimal.RequireFromString("6.01")) {
		t.Fatalf("expected tax 6.01, got %s", line.Tax)
	}
	if !line.Total.Equal(line.Subtotal.Add(line.Tax)) {
		t.Fatalf("expected total = subtotal + tax, got %s", line.Total)
	}
	if !line.RateApplied.Equal(TaxRate) {
		t.Fatalf("expected rate %s, got %s", TaxRate, line.RateApplied)
	}
}

func TestSumKeepsTotalConsistent(t *testing.T) {
	lines := []Line{
		LineAmounts(decimal.NewFromInt(100), 1, true),
		LineAmounts(decimal.RequireFromString("2.50"), 4, true),
	}
	totals := Sum(lines)

	if !totals.Subtotal.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected subtotal 110, got %s", totals.Subtotal)
	}
	if !totals.TaxTotal.Equal(decimal.RequireFromString("20.9")) {
		t.Fatalf("expected tax total 20.90, got %s", totals.TaxTotal)
	}
	if !totals.Total.Equal(totals.Subtotal.Add(totals.TaxTotal)) {
		t.Fatalf("expected total = subtotal + taxTotal")
	}
}

func TestLowStockThreshold(t *testing.T) {
	cases := map[int]bool{0: true, 4: true, 5: true, 6: false, 8: false}
	for remaining, want := range cases {
		if got := IsLowStock(remaining); got != want {
			t.Fatalf("remaining %d: expected %v, got %v", remaining, want, got)
		}
	}
}
