package memory

import (
	"context"
	"fmt"
	"time"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/syncer"
)

func syncKey(rec syncer.Record) string {
	if rec.Entity == syncer.EntityCashRegisters {
		return registerKey(rec.TenantID, rec.ID)
	}
	return rec.ID
}

// recordLocked encodes the row stored under key. ok is false when it is gone.
func (s *Store) recordLocked(entity string, key string) (syncer.Record, bool, error) {
	switch entity {
	case syncer.EntityTenants:
		t, ok := s.tenants[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, t.ID, t.ID, t.UpdatedAt, t)
		return rec, true, err
	case syncer.EntityUsers:
		u, ok := s.users[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, u.ID, u.TenantID, u.UpdatedAt, syncer.UserPayload{User: u, PasswordHash: u.PasswordHash})
		return rec, true, err
	case syncer.EntityClients:
		c, ok := s.clients[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, c.ID, c.TenantID, c.UpdatedAt, c)
		return rec, true, err
	case syncer.EntityProducts:
		p, ok := s.products[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, p.ID, p.TenantID, p.UpdatedAt, p)
		return rec, true, err
	case syncer.EntityCashRegisters:
		r, ok := s.registers[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, r.ID, r.TenantID, r.UpdatedAt, r)
		return rec, true, err
	case syncer.EntityInvoices:
		inv, ok := s.invoices[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, inv.ID, inv.TenantID, inv.UpdatedAt, inv)
		return rec, true, err
	case syncer.EntityShiftCloseouts:
		c, ok := s.closeouts[key]
		if !ok {
			return syncer.Record{}, false, nil
		}
		rec, err := syncer.NewRecord(entity, c.ID, c.TenantID, c.UpdatedAt, c)
		return rec, true, err
	}
	return syncer.Record{}, false, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, entity)
}

func (s *Store) keysLocked(entity string) ([]string, error) {
	var keys []string
	switch entity {
	case syncer.EntityTenants:
		keys = mapKeys(s.tenants)
	case syncer.EntityUsers:
		keys = mapKeys(s.users)
	case syncer.EntityClients:
		keys = mapKeys(s.clients)
	case syncer.EntityProducts:
		keys = mapKeys(s.products)
	case syncer.EntityCashRegisters:
		keys = mapKeys(s.registers)
	case syncer.EntityInvoices:
		keys = mapKeys(s.invoices)
	case syncer.EntityShiftCloseouts:
		keys = mapKeys(s.closeouts)
	default:
		return nil, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, entity)
	}
	return keys, nil
}

func mapKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}

func (s *Store) ChangedSince(_ context.Context, entity string, after syncer.Cursor, limit int) ([]syncer.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.keysLocked(entity)
	if err != nil {
		return nil, err
	}
	records := make([]syncer.Record, 0, len(keys))
	for _, key := range keys {
		rec, ok, err := s.recordLocked(entity, key)
		if err != nil {
			return nil, err
		}
		if ok && after.Less(syncer.CursorOf(rec)) {
			records = append(records, rec)
		}
	}
	syncer.SortRecords(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) DirtyRecords(_ context.Context, entity string) ([]syncer.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirty, ok := s.dirty[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, entity)
	}
	records := make([]syncer.Record, 0, len(dirty))
	for key := range dirty {
		rec, ok, err := s.recordLocked(entity, key)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	syncer.SortRecords(records)
	return records, nil
}

// MarkSynced clears the dirty flag of rows not modified since they were read.
func (s *Store) MarkSynced(_ context.Context, entity string, records []syncer.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty, ok := s.dirty[entity]
	if !ok {
		return fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, entity)
	}
	for _, rec := range records {
		key := syncKey(rec)
		current, exists, err := s.recordLocked(entity, key)
		if err != nil {
			return err
		}
		if !exists || !current.UpdatedAt.After(rec.UpdatedAt) {
			delete(dirty, key)
		}
	}
	return nil
}

// ApplyRecords writes remote rows that are newer than the local copy.
func (s *Store) ApplyRecords(_ context.Context, entity string, records []syncer.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, rec := range records {
		wrote, err := s.applyLocked(rec)
		if err != nil {
			return applied, err
		}
		if wrote {
			applied++
		}
	}
	return applied, nil
}

func (s *Store) applyLocked(rec syncer.Record) (bool, error) {
	key := syncKey(rec)
	switch rec.Entity {
	case syncer.EntityTenants:
		var t domain.Tenant
		if err := rec.Decode(&t); err != nil {
			return false, err
		}
		return applyNewer(s, s.tenants, rec.Entity, key, t, func(v domain.Tenant) time.Time { return v.UpdatedAt }), nil
	case syncer.EntityUsers:
		var payload syncer.UserPayload
		if err := rec.Decode(&payload); err != nil {
			return false, err
		}
		user := payload.User
		user.PasswordHash = payload.PasswordHash
		return applyNewer(s, s.users, rec.Entity, key, user, func(v domain.User) time.Time { return v.UpdatedAt }), nil
	case syncer.EntityClients:
		var c domain.Client
		if err := rec.Decode(&c); err != nil {
			return false, err
		}
		return applyNewer(s, s.clients, rec.Entity, key, c, func(v domain.Client) time.Time { return v.UpdatedAt }), nil
	case syncer.EntityProducts:
		var p domain.Product
		if err := rec.Decode(&p); err != nil {
			return false, err
		}
		return applyNewer(s, s.products, rec.Entity, key, p, func(v domain.Product) time.Time { return v.UpdatedAt }), nil
	case syncer.EntityCashRegisters:
		var r domain.CashRegister
		if err := rec.Decode(&r); err != nil {
			return false, err
		}
		return applyNewer(s, s.registers, rec.Entity, key, r, func(v domain.CashRegister) time.Time { return v.UpdatedAt }), nil
	case syncer.EntityInvoices:
		var inv domain.Invoice
		if err := rec.Decode(&inv); err != nil {
			return false, err
		}
		inv.Client = nil
		for i := range inv.Items {
			inv.Items[i].Product = nil
		}
		return applyNewer(s, s.invoices, rec.Entity, key, inv, func(v domain.Invoice) time.Time { return v.UpdatedAt }), nil
	case syncer.EntityShiftCloseouts:
		var c domain.ShiftCloseout
		if err := rec.Decode(&c); err != nil {
			return false, err
		}
		return applyNewer(s, s.closeouts, rec.Entity, key, c, func(v domain.ShiftCloseout) time.Time { return v.UpdatedAt }), nil
	}
	return false, fmt.Errorf("%w: %s", syncer.ErrUnknownEntity, rec.Entity)
}

func applyNewer[T any](s *Store, rows map[string]T, entity string, key string, incoming T, updatedAt func(T) time.Time) bool {
	if existing, ok := rows[key]; ok && !updatedAt(incoming).After(updatedAt(existing)) {
		return false
	}
	rows[key] = incoming
	delete(s.dirty[entity], key)
	return true
}
