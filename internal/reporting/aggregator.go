// Package reporting computes the tenant dashboard, revenue series and best
// sellers. Results are cached per tenant, and store failures degrade to empty
// results instead of errors.
package reporting

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cajero/backend/internal/cache"
	"cajero/backend/internal/domain"
	"cajero/backend/internal/pricing"
	"cajero/backend/internal/store"
)

const keyPrefix = "cajero:report:"

var defaultSpan = map[domain.RevenuePeriod]int{
	domain.PeriodDay:   30,
	domain.PeriodWeek:  12,
	domain.PeriodMonth: 12,
}

type Aggregator struct {
	repo     store.ReportStore
	cache    cache.ReportCache
	cacheTTL time.Duration
	loc      *time.Location
	now      func() time.Time
}

func NewAggregator(repo store.ReportStore, cacheStore cache.ReportCache, cacheTTL time.Duration, loc *time.Location) *Aggregator {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		loc:      loc,
		now:      time.Now,
	}
}

// location prefers the tenant's own timezone over the configured default.
func (a *Aggregator) location(ctx context.Context, tenantID string) *time.Location {
	tenant, err := a.repo.GetTenant(ctx, tenantID)
	if err != nil || tenant.Timezone == "" {
		return a.loc
	}
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		log.Warn().Str("tenant", tenantID).Str("timezone", tenant.Timezone).Msg("unknown tenant timezone, using default")
		return a.loc
	}
	return loc
}

func (a *Aggregator) Dashboard(ctx context.Context, tenantID string) domain.DashboardSummary {
	var summary domain.DashboardSummary
	key := buildCacheKey(tenantID, "dashboard")
	if ok, err := a.cache.Get(ctx, key, &summary); err == nil && ok {
		return summary
	}

	loc := a.location(ctx, tenantID)
	now := a.now().In(loc)
	summary = domain.DashboardSummary{Timezone: loc.String(), GeneratedAt: now.UTC()}

	// A summary with any degraded part is served but not cached.
	complete := true
	var ok bool
	if summary.SalesToday, ok = a.sales(ctx, tenantID, now, domain.PeriodDay, loc); !ok {
		complete = false
	}
	if summary.SalesThisWeek, ok = a.sales(ctx, tenantID, now, domain.PeriodWeek, loc); !ok {
		complete = false
	}
	if summary.SalesThisMonth, ok = a.sales(ctx, tenantID, now, domain.PeriodMonth, loc); !ok {
		complete = false
	}
	if summary.LastCloseout, ok = a.lastCloseout(ctx, tenantID, ""); !ok {
		complete = false
	}
	counts, err := a.repo.CatalogCounts(ctx, tenantID, pricing.LowStockThreshold)
	if err != nil {
		degrade(err, tenantID, "catalog counts")
		complete = false
	} else {
		summary.Catalog = counts
	}

	if complete {
		a.remember(ctx, key, summary)
	}
	return summary
}

func (a *Aggregator) sales(ctx context.Context, tenantID string, now time.Time, period domain.RevenuePeriod, loc *time.Location) (domain.SalesTotal, bool) {
	start := domain.BucketStart(now, period, loc)
	end := nextBucket(start, period)
	total, err := a.repo.SumSales(ctx, tenantID, domain.SalesWindow{From: &start, Until: &end})
	if err != nil {
		degrade(err, tenantID, "sales "+string(period))
		return domain.SalesTotal{Total: decimal.Zero}, false
	}
	return total, true
}

// Revenue fails only on an invalid period or range.
func (a *Aggregator) Revenue(ctx context.Context, tenantID string, period domain.RevenuePeriod, from *time.Time, to *time.Time) (domain.RevenueReport, error) {
	if period == "" {
		period = domain.PeriodDay
	}
	if !period.Valid() {
		return domain.RevenueReport{}, fmt.Errorf("%w: period must be day, week or month", store.ErrInvalidInput)
	}

	loc := a.location(ctx, tenantID)
	end := a.now().In(loc)
	if to != nil {
		end = to.In(loc)
	}
	var start time.Time
	if from != nil {
		start = from.In(loc)
	} else {
		start = domain.BucketStart(end, period, loc)
		switch period {
		case domain.PeriodMonth:
			start = start.AddDate(0, -(defaultSpan[period] - 1), 0)
		case domain.PeriodWeek:
			start = start.AddDate(0, 0, -7*(defaultSpan[period]-1))
		default:
			start = start.AddDate(0, 0, -(defaultSpan[period] - 1))
		}
	}
	if !start.Before(end) {
		return domain.RevenueReport{}, fmt.Errorf("%w: from must be before to", store.ErrInvalidInput)
	}

	report := domain.RevenueReport{
		Period:   period,
		Timezone: loc.String(),
		From:     start.UTC(),
		To:       end.UTC(),
		Points:   []domain.RevenuePoint{},
	}
	key := buildCacheKey(tenantID, "revenue", string(period), start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if to == nil {
		// Open-ended ranges move with the clock; key them by minute.
		key = buildCacheKey(tenantID, "revenue", string(period), start.UTC().Format(time.RFC3339), end.UTC().Truncate(time.Minute).Format(time.RFC3339))
	}
	var cached domain.RevenueReport
	if ok, err := a.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	points, err := a.repo.RevenueSeries(ctx, tenantID, period, start.UTC(), end.UTC(), loc)
	if err != nil {
		degrade(err, tenantID, "revenue series")
		return report, nil
	}
	if points != nil {
		report.Points = points
	}
	a.remember(ctx, key, report)
	return report, nil
}

// TopProducts defaults to the last 30 days and 10 products.
func (a *Aggregator) TopProducts(ctx context.Context, tenantID string, limit int, from *time.Time, to *time.Time) []domain.TopProduct {
	if limit < 1 || limit > 100 {
		limit = 10
	}
	end := a.now().UTC()
	if to != nil {
		end = to.UTC()
	}
	start := end.AddDate(0, 0, -30)
	if from != nil {
		start = from.UTC()
	}

	key := buildCacheKey(tenantID, "top", fmt.Sprint(limit), start.Truncate(time.Minute).Format(time.RFC3339), end.Truncate(time.Minute).Format(time.RFC3339))
	var top []domain.TopProduct
	if ok, err := a.cache.Get(ctx, key, &top); err == nil && ok {
		return top
	}

	top, err := a.repo.TopProducts(ctx, tenantID, start, end, limit)
	if err != nil {
		degrade(err, tenantID, "top products")
		return []domain.TopProduct{}
	}
	if top == nil {
		top = []domain.TopProduct{}
	}
	a.remember(ctx, key, top)
	return top
}

// LastCloseout returns nil when the register, or the tenant when registerID is
// empty, has never closed a shift.
func (a *Aggregator) LastCloseout(ctx context.Context, tenantID string, registerID string) *domain.CloseoutSummary {
	summary, _ := a.lastCloseout(ctx, tenantID, registerID)
	return summary
}

// lastCloseout reports false when the lookup degraded rather than found nothing.
func (a *Aggregator) lastCloseout(ctx context.Context, tenantID string, registerID string) (*domain.CloseoutSummary, bool) {
	closeout, err := a.repo.LatestCloseout(ctx, tenantID, registerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, true
		}
		degrade(err, tenantID, "last closeout")
		return nil, false
	}
	summary := closeout.Summary()
	return &summary, true
}

// InvalidateTenant drops every cached report of the tenant.
func (a *Aggregator) InvalidateTenant(ctx context.Context, tenantID string) {
	if err := a.cache.InvalidatePrefix(ctx, keyPrefix+tenantID+":"); err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("report cache invalidation failed")
	}
}

func (a *Aggregator) remember(ctx context.Context, key string, value any) {
	if err := a.cache.Set(ctx, key, value, a.cacheTTL); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("report cache write failed")
	}
}

func degrade(err error, tenantID string, what string) {
	event := log.Warn()
	if errors.Is(err, store.ErrSchemaNotReady) {
		event = log.Info()
	}
	event.Err(err).Str("tenant", tenantID).Msgf("report degraded: %s", what)
}

func nextBucket(start time.Time, period domain.RevenuePeriod) time.Time {
	switch period {
	case domain.PeriodMonth:
		return start.AddDate(0, 1, 0)
	case domain.PeriodWeek:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func buildCacheKey(tenantID string, parts ...string) string {
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return keyPrefix + tenantID + ":" + hex.EncodeToString(hash[:])
}
