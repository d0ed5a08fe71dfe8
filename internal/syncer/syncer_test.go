package syncer_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store/memory"
	"cajero/backend/internal/syncer"
)

func TestRunOncePushesDirtyRowsAndPullsRemoteChanges(t *testing.T) {
	ctx := context.Background()
	local := memory.NewSeeded()
	remote := memory.New()

	reconciler := syncer.NewReconciler(local, remote, 2)
	report, err := reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(report.Entities) != len(syncer.Entities) {
		t.Fatalf("expected a result per entity, got %d", len(report.Entities))
	}

	products, err := remote.ListProducts(ctx, memory.SeedTenantID)
	if err != nil {
		t.Fatalf("list remote products: %v", err)
	}
	if len(products) != 4 {
		t.Fatalf("expected seeded products pushed, got %d", len(products))
	}
	users, err := remote.ListUsers(ctx, memory.SeedTenantID)
	if err != nil {
		t.Fatalf("list remote users: %v", err)
	}
	if len(users) != 2 || users[0].PasswordHash == "" {
		t.Fatalf("expected users with password hashes, got %+v", users)
	}

	dirty, err := local.DirtyRecords(ctx, syncer.EntityProducts)
	if err != nil {
		t.Fatalf("dirty: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("pushed rows must be marked synced, got %d dirty", len(dirty))
	}

	// A remote edit newer than the local copy comes back on the next pass.
	edited := products[0]
	edited.Name = "Editado remoto"
	edited.Price = decimal.NewFromInt(9999)
	edited.UpdatedAt = time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	rec, err := syncer.NewRecord(syncer.EntityProducts, edited.ID, edited.TenantID, edited.UpdatedAt, edited)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := remote.ApplyRecords(ctx, syncer.EntityProducts, []syncer.Record{rec}); err != nil {
		t.Fatalf("remote apply: %v", err)
	}

	report, err = reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	got, err := local.GetProduct(ctx, memory.SeedTenantID, edited.ID)
	if err != nil {
		t.Fatalf("get local product: %v", err)
	}
	if got.Name != "Editado remoto" {
		t.Fatalf("expected remote edit pulled, got %q", got.Name)
	}
	if hw := reconciler.HighWater(syncer.EntityProducts); !hw.Equal(edited.UpdatedAt) {
		t.Fatalf("expected high water %v, got %v", edited.UpdatedAt, hw)
	}

	var downloaded int
	for _, r := range report.Entities {
		if r.Entity == syncer.EntityProducts {
			downloaded = r.Downloaded
		}
	}
	if downloaded != 1 {
		t.Fatalf("expected one product downloaded, got %d", downloaded)
	}
}

func TestRecordDecodeRoundTripKeepsPasswordHash(t *testing.T) {
	user := domain.User{ID: "u1", TenantID: "t1", Email: "a@b.test", Role: domain.RoleCashier}
	rec, err := syncer.NewRecord(syncer.EntityUsers, user.ID, user.TenantID, time.Now(), syncer.UserPayload{User: user, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	var payload syncer.UserPayload
	if err := rec.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.PasswordHash != "hash" || payload.Email != "a@b.test" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func applyProducts(t *testing.T, replica syncer.Replica, products ...domain.Product) {
	t.Helper()
	records := make([]syncer.Record, 0, len(products))
	for _, p := range products {
		rec, err := syncer.NewRecord(syncer.EntityProducts, p.ID, p.TenantID, p.UpdatedAt, p)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		records = append(records, rec)
	}
	if _, err := replica.ApplyRecords(context.Background(), syncer.EntityProducts, records); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func countProducts(t *testing.T, s *memory.Store, tenantID string) int {
	t.Helper()
	products, err := s.ListProducts(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	return len(products)
}

func TestPullPagesThroughRowsSharingUpdatedAt(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	remote := memory.New()

	stamp := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	applyProducts(t, remote,
		domain.Product{ID: "p-a", TenantID: "t1", Name: "A", IsActive: true, UpdatedAt: stamp},
		domain.Product{ID: "p-b", TenantID: "t1", Name: "B", IsActive: true, UpdatedAt: stamp},
		domain.Product{ID: "p-c", TenantID: "t1", Name: "C", IsActive: true, UpdatedAt: stamp},
	)

	reconciler := syncer.NewReconciler(local, remote, 2)
	if _, err := reconciler.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := countProducts(t, local, "t1"); got != 3 {
		t.Fatalf("expected all 3 products sharing updatedAt pulled in one pass, got %d", got)
	}

	// Another tenant's row with the same stamp arrives after the pass.
	applyProducts(t, remote, domain.Product{ID: "p-d", TenantID: "t2", Name: "D", IsActive: true, UpdatedAt: stamp})
	for i := 0; i < 2; i++ {
		if _, err := reconciler.RunOnce(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if got := countProducts(t, local, "t2"); got != 1 {
		t.Fatalf("expected the t2 product pulled, got %d", got)
	}
	if got := countProducts(t, local, "t1"); got != 3 {
		t.Fatalf("expected t1 products kept, got %d", got)
	}
}

func TestPullRereadsRowsCommittedBehindHighWater(t *testing.T) {
	ctx := context.Background()
	local := memory.New()
	remote := memory.New()

	stamp := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	applyProducts(t, remote, domain.Product{ID: "p-new", TenantID: "t1", Name: "Nuevo", IsActive: true, UpdatedAt: stamp})

	reconciler := syncer.NewReconciler(local, remote, 10)
	if _, err := reconciler.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if hw := reconciler.HighWater(syncer.EntityProducts); !hw.Equal(stamp) {
		t.Fatalf("expected high water %v, got %v", stamp, hw)
	}

	// Stamped before the pull, visible only after it.
	applyProducts(t, remote, domain.Product{ID: "p-late", TenantID: "t1", Name: "Tarde", IsActive: true, UpdatedAt: stamp.Add(-10 * time.Second)})
	report, err := reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := countProducts(t, local, "t1"); got != 2 {
		t.Fatalf("expected the late row pulled, got %d products", got)
	}
	for _, r := range report.Entities {
		if r.Entity == syncer.EntityProducts && r.Downloaded != 1 {
			t.Fatalf("expected only the late row applied, got %d", r.Downloaded)
		}
	}
	if hw := reconciler.HighWater(syncer.EntityProducts); !hw.Equal(stamp) {
		t.Fatalf("high water must not move back, got %v", hw)
	}
}

func TestCursorOrdersByStampTenantAndID(t *testing.T) {
	stamp := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		a, b syncer.Cursor
		want bool
	}{
		{syncer.Cursor{UpdatedAt: stamp}, syncer.Cursor{UpdatedAt: stamp.Add(time.Microsecond)}, true},
		{syncer.Cursor{UpdatedAt: stamp, TenantID: "t1", ID: "z"}, syncer.Cursor{UpdatedAt: stamp, TenantID: "t2", ID: "a"}, true},
		{syncer.Cursor{UpdatedAt: stamp, TenantID: "t1", ID: "a"}, syncer.Cursor{UpdatedAt: stamp, TenantID: "t1", ID: "b"}, true},
		{syncer.Cursor{UpdatedAt: stamp, TenantID: "t1", ID: "a"}, syncer.Cursor{UpdatedAt: stamp, TenantID: "t1", ID: "a"}, false},
		{syncer.Cursor{UpdatedAt: stamp.Add(time.Second)}, syncer.Cursor{UpdatedAt: stamp, TenantID: "t9", ID: "z"}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Less(tt.b); got != tt.want {
			t.Fatalf("%+v.Less(%+v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
