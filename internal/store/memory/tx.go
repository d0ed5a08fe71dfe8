package memory

import (
	"context"
	"fmt"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
	"cajero/backend/internal/syncer"
)

// RunInTx runs fn with the write lock held. Writes are staged on the tx and
// only reach the maps when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:         s,
		stock:     make(map[string]int),
		registers: make(map[string]domain.CashRegister),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s         *Store
	stock     map[string]int
	invoices  []domain.Invoice
	registers map[string]domain.CashRegister
	closeouts []domain.ShiftCloseout
}

func (t *memTx) GetProductForUpdate(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	product, err := t.s.getProductLocked(tenantID, productID)
	if err != nil {
		return nil, err
	}
	if staged, ok := t.stock[productID]; ok {
		product.Stock = staged
	}
	return product, nil
}

func (t *memTx) UpdateProductStock(_ context.Context, tenantID string, productID string, stock int) error {
	if _, err := t.s.getProductLocked(tenantID, productID); err != nil {
		return err
	}
	if stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
	}
	t.stock[productID] = stock
	return nil
}

func (t *memTx) GetClient(_ context.Context, tenantID string, clientID string) (*domain.Client, error) {
	return t.s.getClientLocked(tenantID, clientID)
}

func (t *memTx) InsertInvoice(_ context.Context, invoice domain.Invoice) error {
	taken := t.s.invoiceNumberTakenLocked(invoice.TenantID, invoice.Number, "")
	for _, staged := range t.invoices {
		if staged.TenantID == invoice.TenantID && staged.Number == invoice.Number {
			taken = true
		}
	}
	if taken {
		return fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, invoice.Number)
	}
	invoice.Client = nil
	items := make([]domain.InvoiceItem, len(invoice.Items))
	for i, item := range invoice.Items {
		item.Product = nil
		items[i] = item
	}
	invoice.Items = items
	t.invoices = append(t.invoices, invoice)
	return nil
}

func (t *memTx) GetCashRegister(_ context.Context, tenantID string, cashRegisterID string) (*domain.CashRegister, error) {
	key := registerKey(tenantID, cashRegisterID)
	if register, ok := t.registers[key]; ok {
		return &register, nil
	}
	register, ok := t.s.registers[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &register, nil
}

func (t *memTx) SaveCashRegister(_ context.Context, register domain.CashRegister) error {
	if _, ok := t.s.tenants[register.TenantID]; !ok {
		return store.ErrNotFound
	}
	if existing, ok := t.s.registers[registerKey(register.TenantID, register.ID)]; ok {
		register.CreatedAt = existing.CreatedAt
	}
	t.registers[registerKey(register.TenantID, register.ID)] = register
	return nil
}

func (t *memTx) LatestCloseout(_ context.Context, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error) {
	return latestCloseout(t.s.closeouts, t.closeouts, tenantID, cashRegisterID)
}

func (t *memTx) SumSales(_ context.Context, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error) {
	return sumSales(t.s.invoices, t.invoices, tenantID, window), nil
}

func (t *memTx) InsertCloseout(_ context.Context, closeout domain.ShiftCloseout) error {
	if _, exists := t.s.closeouts[closeout.ID]; exists {
		return fmt.Errorf("%w: closeout %s already exists", store.ErrConflict, closeout.ID)
	}
	t.closeouts = append(t.closeouts, closeout)
	return nil
}

func (t *memTx) commit() {
	s := t.s
	now := s.now()
	for productID, stock := range t.stock {
		product := s.products[productID]
		product.Stock = stock
		product.UpdatedAt = now
		s.products[productID] = product
		s.markDirty(syncer.EntityProducts, productID)
	}
	for _, invoice := range t.invoices {
		s.invoices[invoice.ID] = invoice
		s.markDirty(syncer.EntityInvoices, invoice.ID)
	}
	for key, register := range t.registers {
		s.registers[key] = register
		s.markDirty(syncer.EntityCashRegisters, key)
	}
	for _, closeout := range t.closeouts {
		s.closeouts[closeout.ID] = closeout
		s.markDirty(syncer.EntityShiftCloseouts, closeout.ID)
	}
}
