package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
)

const closeoutColumns = `id, tenant_id, cash_register_id, closing_time, starting_balance, final_balance,
	sales_total, closed_by_user_id, created_at, updated_at`

func scanCloseout(row rowScanner) (*domain.ShiftCloseout, error) {
	var c domain.ShiftCloseout
	if err := row.Scan(&c.ID, &c.TenantID, &c.CashRegisterID, &c.ClosingTime, &c.StartingBalance, &c.FinalBalance,
		&c.SalesTotal, &c.ClosedByUserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ClosingTime = c.ClosingTime.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) LatestCloseout(ctx context.Context, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error) {
	return latestCloseout(ctx, s.db, tenantID, cashRegisterID)
}

// latestCloseout returns the newest closeout of the register, or of any
// register when cashRegisterID is empty.
func latestCloseout(ctx context.Context, q queryer, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error) {
	closeout, err := scanCloseout(q.QueryRowContext(ctx, `
		SELECT `+closeoutColumns+`
		FROM shift_closeouts
		WHERE tenant_id = $1 AND ($2 = '' OR cash_register_id = $2)
		ORDER BY closing_time DESC, id DESC
		LIMIT 1
	`, tenantID, cashRegisterID))
	if err != nil {
		return nil, mapError(err)
	}
	return closeout, nil
}

func (s *Store) SumSales(ctx context.Context, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error) {
	return sumSales(ctx, s.db, tenantID, window)
}

func sumSales(ctx context.Context, q queryer, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error) {
	var total domain.SalesTotal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0), COUNT(*)
		FROM invoices
		WHERE tenant_id = $1
			AND status IN ('ISSUED', 'PAID')
			AND ($2::timestamptz IS NULL OR issue_date >= $2)
			AND ($3::timestamptz IS NULL OR issue_date < $3)
	`, tenantID, nullTime(window.From), nullTime(window.Until)).Scan(&total.Total, &total.Invoices)
	if err != nil {
		return domain.SalesTotal{}, mapError(err)
	}
	return total, nil
}

func (s *Store) CatalogCounts(ctx context.Context, tenantID string, lowStockThreshold int) (domain.CatalogCounts, error) {
	var counts domain.CatalogCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products WHERE tenant_id = $1),
			(SELECT COUNT(*) FROM products WHERE tenant_id = $1 AND is_active AND stock <= $2),
			(SELECT COUNT(*) FROM clients WHERE tenant_id = $1)
	`, tenantID, lowStockThreshold).Scan(&counts.Products, &counts.LowStockProducts, &counts.Clients)
	if err != nil {
		return domain.CatalogCounts{}, mapError(err)
	}
	return counts, nil
}

func (s *Store) RevenueSeries(ctx context.Context, tenantID string, period domain.RevenuePeriod, from time.Time, to time.Time, loc *time.Location) ([]domain.RevenuePoint, error) {
	zone := "UTC"
	if loc != nil && loc.String() != "Local" {
		zone = loc.String()
	}
	label := "YYYY-MM-DD"
	if period == domain.PeriodMonth {
		label = "YYYY-MM"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date_trunc($2, issue_date AT TIME ZONE $3), $4) AS bucket,
			COALESCE(SUM(total), 0),
			COUNT(*)
		FROM invoices
		WHERE tenant_id = $1
			AND status IN ('ISSUED', 'PAID')
			AND issue_date >= $5 AND issue_date < $6
		GROUP BY bucket
		ORDER BY bucket
	`, tenantID, string(period), zone, label, from, to)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	points := make([]domain.RevenuePoint, 0, 32)
	for rows.Next() {
		var point domain.RevenuePoint
		if err := rows.Scan(&point.Bucket, &point.Total, &point.Invoices); err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

func (s *Store) TopProducts(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ii.product_id,
			COALESCE(MAX(p.name), MAX(ii.description)),
			SUM(ii.quantity),
			COALESCE(SUM(ii.total_amount), 0)
		FROM invoice_items ii
		JOIN invoices i ON i.id = ii.invoice_id
		LEFT JOIN products p ON p.id = ii.product_id
		WHERE i.tenant_id = $1
			AND i.status IN ('ISSUED', 'PAID')
			AND i.issue_date >= $2 AND i.issue_date < $3
			AND ii.product_id IS NOT NULL
		GROUP BY ii.product_id
		ORDER BY SUM(ii.quantity) DESC, SUM(ii.total_amount) DESC, ii.product_id
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	top := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		entry := domain.TopProduct{Revenue: decimal.Zero}
		if err := rows.Scan(&entry.ProductID, &entry.Name, &entry.Quantity, &entry.Revenue); err != nil {
			return nil, err
		}
		top = append(top, entry)
	}
	return top, rows.Err()
}
