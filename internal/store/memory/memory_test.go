package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
	"cajero/backend/internal/syncer"
)

func seedProduct(t *testing.T, s *Store, sku string, stock int) domain.Product {
	t.Helper()
	now := s.now()
	product, err := s.CreateProduct(context.Background(), domain.Product{
		ID:        "p-" + sku,
		TenantID:  SeedTenantID,
		Name:      "Producto " + sku,
		SKU:       sku,
		Price:     decimal.NewFromInt(1000),
		Stock:     stock,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return *product
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	product := seedProduct(t, s, "ROLL-1", 10)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateProductStock(ctx, SeedTenantID, product.ID, 4); err != nil {
			return err
		}
		if err := tx.InsertInvoice(ctx, domain.Invoice{ID: "inv-roll", TenantID: SeedTenantID, Number: "R-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetProduct(ctx, SeedTenantID, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 10 {
		t.Fatalf("expected stock untouched, got %d", got.Stock)
	}
	if exists, _ := s.InvoiceNumberExists(ctx, SeedTenantID, "R-1"); exists {
		t.Fatalf("invoice must not be committed")
	}
}

func TestTxSeesItsOwnStagedStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	product := seedProduct(t, s, "STAGE-1", 10)

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateProductStock(ctx, SeedTenantID, product.ID, 7); err != nil {
			return err
		}
		locked, err := tx.GetProductForUpdate(ctx, SeedTenantID, product.ID)
		if err != nil {
			return err
		}
		if locked.Stock != 7 {
			t.Errorf("expected staged stock 7, got %d", locked.Stock)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run tx: %v", err)
	}
}

func TestNegativeStockIsRejected(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	product := seedProduct(t, s, "NEG-1", 1)

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.UpdateProductStock(ctx, SeedTenantID, product.ID, -1)
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSKUIsUniquePerTenant(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	seedProduct(t, s, "DUP-1", 1)

	_, err := s.CreateProduct(ctx, domain.Product{ID: "other", TenantID: SeedTenantID, Name: "Otro", SKU: "DUP-1"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	now := s.now()
	other := domain.Tenant{ID: "tenant-2", Name: "Otra", CreatedAt: now, UpdatedAt: now}
	admin := domain.User{ID: "u-2", TenantID: other.ID, Email: "admin@otra.test", Role: domain.RoleAdmin, IsActive: true}
	if err := s.CreateTenantWithAdmin(ctx, other, admin); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{ID: "p-t2", TenantID: other.ID, Name: "Otro", SKU: "DUP-1"}); err != nil {
		t.Fatalf("same sku in another tenant must be allowed: %v", err)
	}
}

func TestEmailUniquenessIgnoresCase(t *testing.T) {
	s := NewSeeded()
	_, err := s.CreateUser(context.Background(), domain.User{
		ID:       "dup-user",
		TenantID: SeedTenantID,
		Email:    "ADMIN@cajero.local",
		Role:     domain.RoleCashier,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	product := seedProduct(t, s, "ISO-1", 3)

	if _, err := s.GetProduct(ctx, "someone-else", product.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
}

func TestDirtyRecordsAndMarkSynced(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := s.now()
	tenant := domain.Tenant{ID: "t1", Name: "Uno", CreatedAt: now, UpdatedAt: now}
	admin := domain.User{ID: "u1", TenantID: "t1", Email: "a@uno.test", Role: domain.RoleAdmin, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTenantWithAdmin(ctx, tenant, admin); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	dirty, err := s.DirtyRecords(ctx, syncer.EntityTenants)
	if err != nil {
		t.Fatalf("dirty: %v", err)
	}
	if len(dirty) != 1 || dirty[0].ID != "t1" {
		t.Fatalf("expected tenant t1 dirty, got %+v", dirty)
	}
	if err := s.MarkSynced(ctx, syncer.EntityTenants, dirty); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	dirty, err = s.DirtyRecords(ctx, syncer.EntityTenants)
	if err != nil {
		t.Fatalf("dirty: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("expected no dirty tenants, got %d", len(dirty))
	}

	users, err := s.DirtyRecords(ctx, syncer.EntityUsers)
	if err != nil {
		t.Fatalf("dirty users: %v", err)
	}
	var payload syncer.UserPayload
	if err := users[0].Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Email != "a@uno.test" {
		t.Fatalf("unexpected user payload %+v", payload)
	}

	if _, err := s.DirtyRecords(ctx, "widgets"); !errors.Is(err, syncer.ErrUnknownEntity) {
		t.Fatalf("expected unknown entity, got %v", err)
	}
}

func TestApplyRecordsLastWriteWins(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	product := seedProduct(t, s, "LWW-1", 5)

	older := product
	older.Name = "Older"
	older.UpdatedAt = product.UpdatedAt.Add(-time.Minute)
	rec, err := syncer.NewRecord(syncer.EntityProducts, older.ID, older.TenantID, older.UpdatedAt, older)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	applied, err := s.ApplyRecords(ctx, syncer.EntityProducts, []syncer.Record{rec})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 0 {
		t.Fatalf("older record must be ignored")
	}

	newer := product
	newer.Name = "Newer"
	newer.Stock = 2
	newer.UpdatedAt = product.UpdatedAt.Add(time.Minute)
	rec, err = syncer.NewRecord(syncer.EntityProducts, newer.ID, newer.TenantID, newer.UpdatedAt, newer)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	applied, err = s.ApplyRecords(ctx, syncer.EntityProducts, []syncer.Record{rec})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected newer record applied")
	}
	got, err := s.GetProduct(ctx, SeedTenantID, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Name != "Newer" || got.Stock != 2 {
		t.Fatalf("unexpected product %+v", got)
	}

	// Pulled rows are not pushed back.
	dirty, err := s.DirtyRecords(ctx, syncer.EntityProducts)
	if err != nil {
		t.Fatalf("dirty: %v", err)
	}
	for _, d := range dirty {
		if d.ID == product.ID {
			t.Fatalf("applied row must not be dirty")
		}
	}
}

func TestChangedSinceIsOrderedAndLimited(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	records, err := s.ChangedSince(ctx, syncer.EntityProducts, syncer.Cursor{}, 2)
	if err != nil {
		t.Fatalf("changed since: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected limit 2, got %d", len(records))
	}
	if records[1].UpdatedAt.Before(records[0].UpdatedAt) {
		t.Fatalf("records must be oldest first")
	}

	future := time.Now().Add(time.Hour)
	records, err = s.ChangedSince(ctx, syncer.EntityProducts, syncer.Cursor{UpdatedAt: future}, 10)
	if err != nil {
		t.Fatalf("changed since: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected nothing newer than the future, got %d", len(records))
	}
}
