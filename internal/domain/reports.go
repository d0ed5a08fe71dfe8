package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesWindow is the half-open range [From, Until). A nil bound is unbounded.
type SalesWindow struct {
	From  *time.Time
	Until *time.Time
}

func (w SalesWindow) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.Until != nil && !t.Before(*w.Until) {
		return false
	}
	return true
}

type SalesTotal struct {
	Total    decimal.Decimal `json:"total"`
	Invoices int             `json:"invoices"`
}

type CatalogCounts struct {
	Products         int `json:"products"`
	LowStockProducts int `json:"lowStockProducts"`
	Clients          int `json:"clients"`
}

type DashboardSummary struct {
	Timezone       string           `json:"timezone"`
	SalesToday     SalesTotal       `json:"salesToday"`
	SalesThisWeek  SalesTotal       `json:"salesThisWeek"`
	SalesThisMonth SalesTotal       `json:"salesThisMonth"`
	Catalog        CatalogCounts    `json:"catalog"`
	LastCloseout   *CloseoutSummary `json:"lastCloseout"`
	GeneratedAt    time.Time        `json:"generatedAt"`
}

type RevenuePeriod string

const (
	PeriodDay   RevenuePeriod = "day"
	PeriodWeek  RevenuePeriod = "week"
	PeriodMonth RevenuePeriod = "month"
)

func (p RevenuePeriod) Valid() bool {
	return p == PeriodDay || p == PeriodWeek || p == PeriodMonth
}

type RevenuePoint struct {
	Bucket   string          `json:"bucket"`
	Total    decimal.Decimal `json:"total"`
	Invoices int             `json:"invoices"`
}

type RevenueReport struct {
	Period   RevenuePeriod  `json:"period"`
	Timezone string         `json:"timezone"`
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Points   []RevenuePoint `json:"points"`
}

type TopProduct struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// BucketStart truncates t to the start of its day, ISO week (Monday) or month in loc.
func BucketStart(t time.Time, period RevenuePeriod, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch period {
	case PeriodMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	case PeriodWeek:
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}
}

func BucketLabel(start time.Time, period RevenuePeriod) string {
	if period == PeriodMonth {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}
