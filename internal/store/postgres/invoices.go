package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
)

const invoiceColumns = `id, tenant_id, client_id, number, status, issue_date, payment_method, currency,
	subtotal, tax_total, total, total_paid, is_credit_sale, notes, created_by_user_id, created_at, updated_at`

const itemColumns = `id, invoice_id, product_id, description, quantity, unit_price, tax_rate_applied, tax_amount, total_amount`

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var clientID, createdBy sql.NullString
	var status string
	if err := row.Scan(
		&inv.ID,
		&inv.TenantID,
		&clientID,
		&inv.Number,
		&status,
		&inv.IssueDate,
		&inv.PaymentMethod,
		&inv.Currency,
		&inv.Subtotal,
		&inv.TaxTotal,
		&inv.Total,
		&inv.TotalPaid,
		&inv.IsCreditSale,
		&inv.Notes,
		&createdBy,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.ClientID = clientID.String
	inv.CreatedByUserID = createdBy.String
	inv.Status = domain.InvoiceStatus(status)
	inv.IssueDate = inv.IssueDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	inv.Items = []domain.InvoiceItem{}
	return &inv, nil
}

func scanItem(row rowScanner) (*domain.InvoiceItem, error) {
	var item domain.InvoiceItem
	var productID sql.NullString
	if err := row.Scan(
		&item.ID,
		&item.InvoiceID,
		&productID,
		&item.Description,
		&item.Quantity,
		&item.UnitPrice,
		&item.TaxRateApplied,
		&item.TaxAmount,
		&item.TotalAmount,
	); err != nil {
		return nil, err
	}
	item.ProductID = productID.String
	return &item, nil
}

func (s *Store) InvoiceNumberExists(ctx context.Context, tenantID string, number string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM invoices WHERE tenant_id = $1 AND number = $2)
	`, tenantID, number).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (s *Store) ListInvoices(ctx context.Context, tenantID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE tenant_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR client_id = $3)
		ORDER BY issue_date DESC, id DESC
		LIMIT $4
	`, tenantID, string(filter.Status), filter.ClientID, limit)
	if err != nil {
		return nil, mapError(err)
	}

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range invoices {
		if err := s.attachRelations(ctx, &invoices[i], false); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func (s *Store) GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = $1 AND id = $2
	`, tenantID, invoiceID))
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.attachRelations(ctx, inv, true); err != nil {
		return nil, err
	}
	return inv, nil
}

// attachRelations loads the invoice's client and items, and each item's
// product when withProducts is set.
func (s *Store) attachRelations(ctx context.Context, inv *domain.Invoice, withProducts bool) error {
	if inv.ClientID != "" {
		client, err := getClient(ctx, s.db, inv.TenantID, inv.ClientID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		inv.Client = client
	}

	items, err := loadItems(ctx, s.db, inv.ID)
	if err != nil {
		return err
	}
	inv.Items = items
	if !withProducts {
		return nil
	}
	for i := range inv.Items {
		if inv.Items[i].ProductID == "" {
			continue
		}
		product, err := s.GetProduct(ctx, inv.TenantID, inv.Items[i].ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		inv.Items[i].Product = product
	}
	return nil
}

func loadItems(ctx context.Context, q queryer, invoiceID string) ([]domain.InvoiceItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = $1 ORDER BY position, id
	`, invoiceID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make([]domain.InvoiceItem, 0, 8)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET number = $3, client_id = $4, status = $5, issue_date = $6, payment_method = $7,
			currency = $8, total_paid = $9, is_credit_sale = $10, notes = $11, updated_at = $12
		WHERE tenant_id = $1 AND id = $2
	`, invoice.TenantID, invoice.ID, invoice.Number, nullIfEmpty(invoice.ClientID), string(invoice.Status),
		invoice.IssueDate, invoice.PaymentMethod, invoice.Currency, invoice.TotalPaid, invoice.IsCreditSale,
		invoice.Notes, invoice.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, invoice.Number)
		}
		return nil, mapError(err)
	}
	return s.GetInvoice(ctx, invoice.TenantID, invoice.ID)
}

func (s *Store) DeleteInvoice(ctx context.Context, tenantID string, invoiceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE tenant_id = $1 AND id = $2`, tenantID, invoiceID)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func insertInvoice(ctx context.Context, q queryer, invoice domain.Invoice) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, invoice.ID, invoice.TenantID, nullIfEmpty(invoice.ClientID), invoice.Number, string(invoice.Status),
		invoice.IssueDate, invoice.PaymentMethod, invoice.Currency, invoice.Subtotal, invoice.TaxTotal,
		invoice.Total, invoice.TotalPaid, invoice.IsCreditSale, invoice.Notes, nullIfEmpty(invoice.CreatedByUserID),
		invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, invoice.Number)
		}
		return mapError(err)
	}
	return insertItems(ctx, q, invoice.ID, invoice.Items)
}

func insertItems(ctx context.Context, q queryer, invoiceID string, items []domain.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*10)
	for i, item := range items {
		base := i * 10
		placeholders = append(placeholders, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args, item.ID, invoiceID, nullIfEmpty(item.ProductID), item.Description, item.Quantity,
			item.UnitPrice, item.TaxRateApplied, item.TaxAmount, item.TotalAmount, i)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO invoice_items (`+itemColumns+`, position)
		VALUES `+strings.Join(placeholders, ","), args...)
	return mapError(err)
}
