package postgres

import (
	"context"
	"fmt"
	"time"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/syncer"
)

// tenant is the column paired with id in the sync cursor.
var syncTables = map[string]struct {
	table   string
	columns string
	tenant  string
}{
	syncer.EntityTenants:        {"tenants", tenantColumns, "id"},
	syncer.EntityUsers:          {"users", userColumns, "tenant_id"},
	syncer.EntityClients:        {"clients", clientColumns, "tenant_id"},
	syncer.EntityProducts:       {"products", productColumns, "tenant_id"},
	syncer.EntityCashRegisters:  {"cash_registers", registerColumns, "tenant_id"},
	syncer.EntityInvoices:       {"invoices", invoiceColumns, "tenant_id"},
	syncer.EntityShiftCloseouts: {"shift_closeouts", closeoutColumns, "tenant_id"},
}

// ChangedSince returns rows after the (updated_at, tenant, id) cursor, oldest first.
func (s *Store) ChangedSince(ctx context.Context, entity string, after syncer.Cursor, limit int) ([]syncer.Record, error) {
	def, ok := syncTables[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, entity)
	}
	if limit < 1 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+def.columns+`
		FROM `+def.table+`
		WHERE (updated_at, `+def.tenant+`, id) > ($1, $2, $3)
		ORDER BY updated_at, `+def.tenant+`, id
		LIMIT $4
	`, after.UpdatedAt, after.TenantID, after.ID, limit)
	if err != nil {
		return nil, mapError(err)
	}

	records := make([]syncer.Record, 0, limit)
	var invoices []domain.Invoice
	for rows.Next() {
		var rec syncer.Record
		switch entity {
		case syncer.EntityTenants:
			t, scanErr := scanTenant(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			rec, err = syncer.NewRecord(entity, t.ID, t.ID, t.UpdatedAt, t)
		case syncer.EntityUsers:
			u, scanErr := scanUser(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			rec, err = syncer.NewRecord(entity, u.ID, u.TenantID, u.UpdatedAt, syncer.UserPayload{User: *u, PasswordHash: u.PasswordHash})
		case syncer.EntityClients:
			c, scanErr := scanClient(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			rec, err = syncer.NewRecord(entity, c.ID, c.TenantID, c.UpdatedAt, c)
		case syncer.EntityProducts:
			p, scanErr := scanProduct(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			rec, err = syncer.NewRecord(entity, p.ID, p.TenantID, p.UpdatedAt, p)
		case syncer.EntityCashRegisters:
			r, scanErr := scanRegister(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			rec, err = syncer.NewRecord(entity, r.ID, r.TenantID, r.UpdatedAt, r)
		case syncer.EntityInvoices:
			// Items are loaded once the cursor is closed.
			inv, scanErr := scanInvoice(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			invoices = append(invoices, *inv)
			continue
		case syncer.EntityShiftCloseouts:
			c, scanErr := scanCloseout(rows)
			if scanErr != nil {
				err = scanErr
				break
			}
			rec, err = syncer.NewRecord(entity, c.ID, c.TenantID, c.UpdatedAt, c)
		}
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, inv := range invoices {
		items, err := loadItems(ctx, s.db, inv.ID)
		if err != nil {
			return nil, err
		}
		inv.Items = items
		rec, err := syncer.NewRecord(entity, inv.ID, inv.TenantID, inv.UpdatedAt, inv)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ApplyRecords upserts the batch in one transaction. Existing rows are only
// replaced when the incoming updated_at is newer.
func (s *Store) ApplyRecords(ctx context.Context, entity string, records []syncer.Record) (int, error) {
	if _, ok := syncTables[entity]; !ok {
		return 0, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, entity)
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	applied := 0
	for _, rec := range records {
		wrote, err := applyRecord(ctx, tx, rec)
		if err != nil {
			return 0, err
		}
		if wrote {
			applied++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, mapError(err)
	}
	return applied, nil
}

func applyRecord(ctx context.Context, q queryer, rec syncer.Record) (bool, error) {
	var (
		query string
		args  []any
	)
	switch rec.Entity {
	case syncer.EntityTenants:
		var t domain.Tenant
		if err := rec.Decode(&t); err != nil {
			return false, err
		}
		query = `
			INSERT INTO tenants (` + tenantColumns + `) VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at
			WHERE tenants.updated_at < EXCLUDED.updated_at`
		args = []any{t.ID, t.Name, t.Timezone, t.CreatedAt, t.UpdatedAt}
	case syncer.EntityUsers:
		var payload syncer.UserPayload
		if err := rec.Decode(&payload); err != nil {
			return false, err
		}
		u := payload.User
		query = `
			INSERT INTO users (` + userColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE
			SET email = EXCLUDED.email, name = EXCLUDED.name, password_hash = EXCLUDED.password_hash,
				role = EXCLUDED.role, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
			WHERE users.updated_at < EXCLUDED.updated_at`
		args = []any{u.ID, u.TenantID, u.Email, u.Name, payload.PasswordHash, string(u.Role), u.IsActive, u.CreatedAt, u.UpdatedAt}
	case syncer.EntityClients:
		var c domain.Client
		if err := rec.Decode(&c); err != nil {
			return false, err
		}
		query = `
			INSERT INTO clients (` + clientColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone, tax_id = EXCLUDED.tax_id,
				address = EXCLUDED.address, updated_at = EXCLUDED.updated_at
			WHERE clients.updated_at < EXCLUDED.updated_at`
		args = []any{c.ID, c.TenantID, c.Name, nullIfEmpty(c.Email), nullIfEmpty(c.Phone), nullIfEmpty(c.TaxID),
			nullIfEmpty(c.Address), c.CreatedAt, c.UpdatedAt}
	case syncer.EntityProducts:
		var p domain.Product
		if err := rec.Decode(&p); err != nil {
			return false, err
		}
		query = `
			INSERT INTO products (` + productColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price, cost = EXCLUDED.cost,
				stock = EXCLUDED.stock, default_tax_rate = EXCLUDED.default_tax_rate,
				is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
			WHERE products.updated_at < EXCLUDED.updated_at`
		args = []any{p.ID, p.TenantID, p.Name, nullIfEmpty(p.SKU), p.Price, p.Cost, p.Stock, p.DefaultTaxRate,
			p.IsActive, p.CreatedAt, p.UpdatedAt}
	case syncer.EntityCashRegisters:
		var r domain.CashRegister
		if err := rec.Decode(&r); err != nil {
			return false, err
		}
		return applyGuarded(ctx, q, rec, func() error { return upsertRegister(ctx, q, r, true) },
			`SELECT updated_at FROM cash_registers WHERE tenant_id = $1 AND id = $2`, r.TenantID, r.ID)
	case syncer.EntityInvoices:
		var inv domain.Invoice
		if err := rec.Decode(&inv); err != nil {
			return false, err
		}
		return applyInvoice(ctx, q, inv)
	case syncer.EntityShiftCloseouts:
		var c domain.ShiftCloseout
		if err := rec.Decode(&c); err != nil {
			return false, err
		}
		// Closeouts are immutable; an existing id is left untouched.
		query = `
			INSERT INTO shift_closeouts (` + closeoutColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING`
		args = []any{c.ID, c.TenantID, c.CashRegisterID, c.ClosingTime, c.StartingBalance, c.FinalBalance,
			c.SalesTotal, c.ClosedByUserID, c.CreatedAt, c.UpdatedAt}
	default:
		return false, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, rec.Entity)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// applyGuarded runs write when the stored row is missing or older than rec.
func applyGuarded(ctx context.Context, q queryer, rec syncer.Record, write func() error, lookup string, args ...any) (bool, error) {
	var current time.Time
	err := q.QueryRowContext(ctx, lookup, args...).Scan(&current)
	switch mapped := mapError(err); {
	case mapped == nil:
		if !rec.UpdatedAt.After(current) {
			return false, nil
		}
	case isNotFound(mapped):
	default:
		return false, mapped
	}
	if err := write(); err != nil {
		return false, err
	}
	return true, nil
}

func applyInvoice(ctx context.Context, q queryer, inv domain.Invoice) (bool, error) {
	var current time.Time
	err := q.QueryRowContext(ctx, `SELECT updated_at FROM invoices WHERE id = $1`, inv.ID).Scan(&current)
	mapped := mapError(err)
	switch {
	case mapped == nil:
		if !inv.UpdatedAt.After(current) {
			return false, nil
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
			return false, mapError(err)
		}
		_, err = q.ExecContext(ctx, `
			UPDATE invoices
			SET client_id = $2, number = $3, status = $4, issue_date = $5, payment_method = $6, currency = $7,
				subtotal = $8, tax_total = $9, total = $10, total_paid = $11, is_credit_sale = $12, notes = $13,
				updated_at = $14
			WHERE id = $1
		`, inv.ID, nullIfEmpty(inv.ClientID), inv.Number, string(inv.Status), inv.IssueDate, inv.PaymentMethod,
			inv.Currency, inv.Subtotal, inv.TaxTotal, inv.Total, inv.TotalPaid, inv.IsCreditSale, inv.Notes, inv.UpdatedAt)
		if err != nil {
			return false, mapError(err)
		}
		if err := insertItems(ctx, q, inv.ID, inv.Items); err != nil {
			return false, err
		}
	case isNotFound(mapped):
		if err := insertInvoice(ctx, q, inv); err != nil {
			return false, err
		}
	default:
		return false, mapped
	}
	return true, nil
}
