package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
)

// RunInTx runs fn inside one READ COMMITTED transaction. Product rows are
// locked with SELECT ... FOR UPDATE, so a concurrent sale of the same product
// waits and then sees the decremented stock.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return mapError(sqlTx.Commit())
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, productID))
	if err != nil {
		return nil, mapError(err)
	}
	return product, nil
}

func (t *pgTx) UpdateProductStock(ctx context.Context, tenantID string, productID string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = $3, updated_at = clock_timestamp()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID, stock)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (t *pgTx) GetClient(ctx context.Context, tenantID string, clientID string) (*domain.Client, error) {
	return getClient(ctx, t.tx, tenantID, clientID)
}

func (t *pgTx) InsertInvoice(ctx context.Context, invoice domain.Invoice) error {
	return insertInvoice(ctx, t.tx, invoice)
}

const registerColumns = `id, tenant_id, name, current_balance, is_active, created_at, updated_at`

func scanRegister(row rowScanner) (*domain.CashRegister, error) {
	var r domain.CashRegister
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.CurrentBalance, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// GetCashRegister takes a transaction-scoped advisory lock on the register key
// before reading, so closeouts of a register that has no row yet still queue.
func (t *pgTx) GetCashRegister(ctx context.Context, tenantID string, cashRegisterID string) (*domain.CashRegister, error) {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`, tenantID, cashRegisterID); err != nil {
		return nil, mapError(err)
	}
	register, err := scanRegister(t.tx.QueryRowContext(ctx, `
		SELECT `+registerColumns+`
		FROM cash_registers
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, cashRegisterID))
	if err != nil {
		return nil, mapError(err)
	}
	return register, nil
}

func (t *pgTx) SaveCashRegister(ctx context.Context, register domain.CashRegister) error {
	return upsertRegister(ctx, t.tx, register, false)
}

// upsertRegister writes the register. With newerOnly set an existing row is
// only replaced when the incoming updated_at is newer.
func upsertRegister(ctx context.Context, q queryer, register domain.CashRegister, newerOnly bool) error {
	guard := ""
	if newerOnly {
		guard = "WHERE cash_registers.updated_at < EXCLUDED.updated_at"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO cash_registers (`+registerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET name = EXCLUDED.name,
			current_balance = EXCLUDED.current_balance,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		`+guard,
		register.ID, register.TenantID, register.Name, register.CurrentBalance, register.IsActive,
		register.CreatedAt, register.UpdatedAt)
	return mapError(err)
}

func (t *pgTx) LatestCloseout(ctx context.Context, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error) {
	return latestCloseout(ctx, t.tx, tenantID, cashRegisterID)
}

func (t *pgTx) SumSales(ctx context.Context, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error) {
	return sumSales(ctx, t.tx, tenantID, window)
}

func (t *pgTx) InsertCloseout(ctx context.Context, closeout domain.ShiftCloseout) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO shift_closeouts (`+closeoutColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, closeout.ID, closeout.TenantID, closeout.CashRegisterID, closeout.ClosingTime, closeout.StartingBalance,
		closeout.FinalBalance, closeout.SalesTotal, closeout.ClosedByUserID, closeout.CreatedAt, closeout.UpdatedAt)
	return mapError(err)
}
