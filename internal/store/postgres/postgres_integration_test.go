package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/service"
	"cajero/backend/internal/store"
	"cajero/backend/internal/syncer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CAJERO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CAJERO_TEST_DATABASE_URL to run postgres integration test")
	}
	if err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedTenant(t *testing.T, s *Store) (domain.Tenant, domain.Product) {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	now := time.Now().UTC().Truncate(time.Microsecond)

	tenant := domain.Tenant{ID: fmt.Sprintf("tenant-it-%d", stamp), Name: "Tienda IT", CreatedAt: now, UpdatedAt: now}
	admin := domain.User{
		ID:           fmt.Sprintf("user-it-%d", stamp),
		TenantID:     tenant.ID,
		Email:        fmt.Sprintf("admin-%d@cajero.test", stamp),
		Name:         "Admin IT",
		PasswordHash: "x",
		Role:         domain.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateTenantWithAdmin(ctx, tenant, admin); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	product, err := s.CreateProduct(ctx, domain.Product{
		ID:        fmt.Sprintf("product-it-%d", stamp),
		TenantID:  tenant.ID,
		Name:      "Arepa",
		SKU:       fmt.Sprintf("ARE-%d", stamp),
		Price:     decimal.NewFromInt(2500),
		Stock:     5,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shift_closeouts WHERE tenant_id = $1`, tenant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_registers WHERE tenant_id = $1`, tenant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE tenant_id = $1`, tenant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE tenant_id = $1`, tenant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM clients WHERE tenant_id = $1`, tenant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE tenant_id = $1`, tenant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenant.ID)
	})
	return tenant, *product
}

func TestRunInTxSerializesStockDecrements(t *testing.T) {
	s := openTestStore(t)
	tenant, product := seedTenant(t, s)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		okCount  int
		failures []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(tx store.Tx) error {
				locked, err := tx.GetProductForUpdate(ctx, tenant.ID, product.ID)
				if err != nil {
					return err
				}
				if locked.Stock < 3 {
					return &store.InsufficientStockError{ProductID: locked.ID, ProductName: locked.Name, Requested: 3, Available: locked.Stock}
				}
				return tx.UpdateProductStock(ctx, tenant.ID, product.ID, locked.Stock-3)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			okCount++
		}()
	}
	wg.Wait()

	if okCount != 1 || len(failures) != 1 {
		t.Fatalf("expected one success and one failure, got %d ok and %v", okCount, failures)
	}
	if !errors.Is(failures[0], store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", failures[0])
	}
	got, err := s.GetProduct(ctx, tenant.ID, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 2 {
		t.Fatalf("expected stock 2, got %d", got.Stock)
	}
}

func TestInvoiceNumberConflictAndSalesWindow(t *testing.T) {
	s := openTestStore(t)
	tenant, product := seedTenant(t, s)
	ctx := context.Background()
	issued := time.Now().UTC().Truncate(time.Microsecond)

	invoice := domain.Invoice{
		ID:            "inv-" + product.ID,
		TenantID:      tenant.ID,
		Number:        "F-0001",
		Status:        domain.InvoiceStatusIssued,
		IssueDate:     issued,
		PaymentMethod: domain.PaymentMethodCash,
		Currency:      domain.DefaultCurrency,
		Subtotal:      decimal.NewFromInt(5000),
		TaxTotal:      decimal.NewFromInt(950),
		Total:         decimal.NewFromInt(5950),
		CreatedAt:     issued,
		UpdatedAt:     issued,
		Items: []domain.InvoiceItem{{
			ID:             "item-" + product.ID,
			ProductID:      product.ID,
			Description:    product.Name,
			Quantity:       2,
			UnitPrice:      decimal.NewFromInt(2500),
			TaxRateApplied: decimal.RequireFromString("0.19"),
			TaxAmount:      decimal.NewFromInt(950),
			TotalAmount:    decimal.NewFromInt(5950),
		}},
	}
	if err := s.RunInTx(ctx, func(tx store.Tx) error { return tx.InsertInvoice(ctx, invoice) }); err != nil {
		t.Fatalf("insert invoice: %v", err)
	}

	dup := invoice
	dup.ID = "dup-" + product.ID
	dup.Items = nil
	err := s.RunInTx(ctx, func(tx store.Tx) error { return tx.InsertInvoice(ctx, dup) })
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	until := issued
	before, err := s.SumSales(ctx, tenant.ID, domain.SalesWindow{Until: &until})
	if err != nil {
		t.Fatalf("sum sales: %v", err)
	}
	if before.Invoices != 0 {
		t.Fatalf("window end must be exclusive, got %d invoices", before.Invoices)
	}
	all, err := s.SumSales(ctx, tenant.ID, domain.SalesWindow{From: &until})
	if err != nil {
		t.Fatalf("sum sales: %v", err)
	}
	if !all.Total.Equal(decimal.NewFromInt(5950)) || all.Invoices != 1 {
		t.Fatalf("unexpected sales total %+v", all)
	}

	got, err := s.GetInvoice(ctx, tenant.ID, invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Product == nil {
		t.Fatalf("expected hydrated item, got %+v", got.Items)
	}
}

func TestApplyRecordsKeepsNewerRow(t *testing.T) {
	s := openTestStore(t)
	tenant, product := seedTenant(t, s)
	ctx := context.Background()

	stale := product
	stale.Name = "Stale"
	stale.UpdatedAt = product.UpdatedAt.Add(-time.Hour)
	rec, err := syncer.NewRecord(syncer.EntityProducts, stale.ID, tenant.ID, stale.UpdatedAt, stale)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	applied, err := s.ApplyRecords(ctx, syncer.EntityProducts, []syncer.Record{rec})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 0 {
		t.Fatalf("stale record must not be applied")
	}

	fresh := product
	fresh.Name = "Fresh"
	fresh.UpdatedAt = product.UpdatedAt.Add(time.Hour)
	rec, err = syncer.NewRecord(syncer.EntityProducts, fresh.ID, tenant.ID, fresh.UpdatedAt, fresh)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	applied, err = s.ApplyRecords(ctx, syncer.EntityProducts, []syncer.Record{rec})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected fresh record applied, got %d", applied)
	}
	got, err := s.GetProduct(ctx, tenant.ID, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Name != "Fresh" {
		t.Fatalf("expected Fresh, got %s", got.Name)
	}
}

func TestChangedSincePagesThroughSharedTimestamps(t *testing.T) {
	s := openTestStore(t)
	tenant, _ := seedTenant(t, s)
	ctx := context.Background()

	stamp := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(time.Now().UnixNano()%1e9) * time.Microsecond)
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.CreateProduct(ctx, domain.Product{
			ID:        tenant.ID + "-shared-" + id,
			TenantID:  tenant.ID,
			Name:      "Compartido " + id,
			Price:     decimal.NewFromInt(100),
			IsActive:  true,
			CreatedAt: stamp,
			UpdatedAt: stamp,
		})
		if err != nil {
			t.Fatalf("create product: %v", err)
		}
	}

	after := syncer.Cursor{UpdatedAt: stamp.Add(-time.Microsecond)}
	var seen []string
	for page := 0; page < 3 && len(seen) < 3; page++ {
		records, err := s.ChangedSince(ctx, syncer.EntityProducts, after, 2)
		if err != nil {
			t.Fatalf("changed since: %v", err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if rec.UpdatedAt.Equal(stamp) && rec.TenantID == tenant.ID {
				seen = append(seen, rec.ID)
			}
		}
		after = syncer.CursorOf(records[len(records)-1])
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 products sharing updated_at across pages, got %v", seen)
	}
}

func TestConcurrentFirstCloseoutsCountSalesOnce(t *testing.T) {
	s := openTestStore(t)
	tenant, product := seedTenant(t, s)
	ctx := context.Background()
	svc := service.New(s, nil, domain.DefaultCurrency)

	sale, err := svc.CreateInvoice(ctx, tenant.ID, "", domain.InvoiceCreateRequest{
		Number: "C-0001",
		Items:  []domain.InvoiceItemRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	register := "caja-" + tenant.ID
	final := decimal.NewFromInt(100)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries []domain.CloseoutSummary
		failures  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := svc.CloseShift(ctx, tenant.ID, "", domain.CloseShiftRequest{CashRegisterID: register, FinalBalance: &final})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			summaries = append(summaries, summary)
		}()
	}
	wg.Wait()

	if len(failures) != 0 || len(summaries) != 2 {
		t.Fatalf("expected both closeouts to succeed, got %d and %v", len(summaries), failures)
	}
	total := summaries[0].SalesTotal.Add(summaries[1].SalesTotal)
	if !total.Equal(sale.Invoice.Total) {
		t.Fatalf("expected closeouts to sum to %s, got %s", sale.Invoice.Total, total)
	}
}
