// Package syncer reconciles an offline replica with the remote store using a
// changed-since algorithm: dirty local rows are pushed, remote rows past the
// local high-water cursor are pulled, and the newest updatedAt wins.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cajero/backend/internal/domain"
)

const (
	EntityTenants        = "tenants"
	EntityUsers          = "users"
	EntityClients        = "clients"
	EntityProducts       = "products"
	EntityCashRegisters  = "cash_registers"
	EntityInvoices       = "invoices"
	EntityShiftCloseouts = "shift_closeouts"
)

// Entities is the order entities are reconciled in; parents come before children.
var Entities = []string{
	EntityTenants,
	EntityUsers,
	EntityClients,
	EntityProducts,
	EntityCashRegisters,
	EntityInvoices,
	EntityShiftCloseouts,
}

// DefaultPullOverlap is how far behind the high-water mark each pull starts
// re-reading, so rows stamped before a concurrent pull but committed after it
// are still fetched.
const DefaultPullOverlap = time.Minute

var ErrUnknownEntity = errors.New("unknown sync entity")

// Record is one row in transit. Payload is the JSON encoding of the domain type
// (UserPayload for users, Invoice with Items for invoices).
type Record struct {
	Entity    string          `json:"entity"`
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// UserPayload carries the password hash, which domain.User hides from JSON.
type UserPayload struct {
	domain.User
	PasswordHash string `json:"passwordHash"`
}

// Cursor is a position in the (updatedAt, tenantID, id) order replicas page
// through. Tenants use their own id as TenantID.
type Cursor struct {
	UpdatedAt time.Time
	TenantID  string
	ID        string
}

func CursorOf(rec Record) Cursor {
	return Cursor{UpdatedAt: rec.UpdatedAt, TenantID: rec.TenantID, ID: rec.ID}
}

// Less reports whether c sorts before o.
func (c Cursor) Less(o Cursor) bool {
	if !c.UpdatedAt.Equal(o.UpdatedAt) {
		return c.UpdatedAt.Before(o.UpdatedAt)
	}
	if c.TenantID != o.TenantID {
		return c.TenantID < o.TenantID
	}
	return c.ID < o.ID
}

// SortRecords orders records by cursor, oldest first.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return CursorOf(records[i]).Less(CursorOf(records[j]))
	})
}

// Replica is one side of the reconciliation.
type Replica interface {
	// ChangedSince returns up to limit rows strictly after the cursor, in
	// cursor order.
	ChangedSince(ctx context.Context, entity string, after Cursor, limit int) ([]Record, error)
	// ApplyRecords upserts records whose UpdatedAt is newer than the stored row
	// and returns how many were written.
	ApplyRecords(ctx context.Context, entity string, records []Record) (int, error)
}

// LocalReplica tracks rows written locally since the last push.
type LocalReplica interface {
	Replica
	DirtyRecords(ctx context.Context, entity string) ([]Record, error)
	MarkSynced(ctx context.Context, entity string, records []Record) error
}

func NewRecord(entity string, id string, tenantID string, updatedAt time.Time, value any) (Record, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s %s: %w", entity, id, err)
	}
	return Record{
		Entity:    entity,
		ID:        id,
		TenantID:  tenantID,
		UpdatedAt: updatedAt.UTC(),
		Payload:   payload,
	}, nil
}

func (r Record) Decode(dest any) error {
	if err := json.Unmarshal(r.Payload, dest); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.Entity, r.ID, err)
	}
	return nil
}

type EntityResult struct {
	Entity     string `json:"entity"`
	Uploaded   int    `json:"uploaded"`
	Downloaded int    `json:"downloaded"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Entities   []EntityResult `json:"entities"`
}

type Reconciler struct {
	local     LocalReplica
	remote    Replica
	batchSize int
	overlap   time.Duration

	mu        sync.Mutex
	highWater map[string]Cursor
}

func NewReconciler(local LocalReplica, remote Replica, batchSize int) *Reconciler {
	if batchSize < 1 {
		batchSize = 500
	}
	return &Reconciler{
		local:     local,
		remote:    remote,
		batchSize: batchSize,
		overlap:   DefaultPullOverlap,
		highWater: make(map[string]Cursor, len(Entities)),
	}
}

// SetPullOverlap changes the re-read window. Zero disables it.
func (r *Reconciler) SetPullOverlap(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d < 0 {
		d = 0
	}
	r.overlap = d
}

// HighWater returns the newest remote updatedAt pulled for entity.
func (r *Reconciler) HighWater(entity string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highWater[entity].UpdatedAt
}

// RunOnce reconciles every entity. A failing entity is reported and the pass
// moves on; the joined errors are returned with the report.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := Report{StartedAt: time.Now().UTC(), Entities: make([]EntityResult, 0, len(Entities))}
	var errs []error
	for _, entity := range Entities {
		result := EntityResult{Entity: entity}
		uploaded, err := r.push(ctx, entity)
		result.Uploaded = uploaded
		if err == nil {
			result.Downloaded, err = r.pull(ctx, entity)
		}
		if err != nil {
			result.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", entity, err))
		}
		report.Entities = append(report.Entities, result)
		if ctx.Err() != nil {
			break
		}
	}
	report.FinishedAt = time.Now().UTC()
	return report, errors.Join(errs...)
}

func (r *Reconciler) push(ctx context.Context, entity string) (int, error) {
	dirty, err := r.local.DirtyRecords(ctx, entity)
	if err != nil {
		return 0, err
	}
	if len(dirty) == 0 {
		return 0, nil
	}
	applied, err := r.remote.ApplyRecords(ctx, entity, dirty)
	if err != nil {
		return 0, err
	}
	// Rows the remote rejected as older are still marked: the newer remote
	// version comes back on the pull.
	if err := r.local.MarkSynced(ctx, entity, dirty); err != nil {
		return applied, err
	}
	return applied, nil
}

// pull pages through remote rows from the overlap start. Rows already held
// locally are re-read but ApplyRecords skips them as not newer.
func (r *Reconciler) pull(ctx context.Context, entity string) (int, error) {
	mark := r.highWater[entity]
	var after Cursor
	if !mark.UpdatedAt.IsZero() {
		after = Cursor{UpdatedAt: mark.UpdatedAt.Add(-r.overlap)}
	}
	total := 0
	for {
		records, err := r.remote.ChangedSince(ctx, entity, after, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(records) == 0 {
			break
		}
		applied, err := r.local.ApplyRecords(ctx, entity, records)
		if err != nil {
			return total, err
		}
		total += applied
		// Pages continue from the last row in the remote's own order.
		after = CursorOf(records[len(records)-1])
		for _, rec := range records {
			if pos := CursorOf(rec); mark.Less(pos) {
				mark = pos
			}
		}
		r.highWater[entity] = mark
		if len(records) < r.batchSize {
			break
		}
	}
	return total, nil
}

// Run reconciles every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := r.RunOnce(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("sync pass finished with errors")
		} else {
			log.Debug().Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("sync pass finished")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
