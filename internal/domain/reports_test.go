package domain

import (
	"testing"
	"time"
)

func TestBucketStartUsesLocalCalendar(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2026-03-02 03:00 UTC is still Sunday 2026-03-01 22:00 in Bogota.
	at := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)

	cases := []struct {
		period RevenuePeriod
		want   string
	}{
		{PeriodDay, "2026-03-01"},
		{PeriodWeek, "2026-02-23"},
		{PeriodMonth, "2026-03"},
	}
	for _, tc := range cases {
		got := BucketLabel(BucketStart(at, tc.period, bogota), tc.period)
		if got != tc.want {
			t.Fatalf("period %s: expected %s, got %s", tc.period, tc.want, got)
		}
	}

	if got := BucketLabel(BucketStart(at, PeriodDay, time.UTC), PeriodDay); got != "2026-03-02" {
		t.Fatalf("expected UTC day 2026-03-02, got %s", got)
	}
}

func TestSalesWindowIsHalfOpen(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(time.Hour)
	window := SalesWindow{From: &from, Until: &until}

	if !window.Contains(from) {
		t.Fatalf("expected lower bound to be inclusive")
	}
	if window.Contains(until) {
		t.Fatalf("expected upper bound to be exclusive")
	}
	if !(SalesWindow{}).Contains(until) {
		t.Fatalf("expected empty window to contain everything")
	}
}

func TestInvoiceStatusCountsAsSale(t *testing.T) {
	for _, status := range []InvoiceStatus{InvoiceStatusIssued, InvoiceStatusPaid} {
		if !status.CountsAsSale() {
			t.Fatalf("expected %s to count as sale", status)
		}
	}
	for _, status := range []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusCancelled} {
		if status.CountsAsSale() {
			t.Fatalf("expected %s not to count as sale", status)
		}
	}
}
