// Package migration copies targets and pending queue entries from the
// local cache to the backend, once per profile.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/localcache"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/storage"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/telemetry"
)

// MarkerKey is the profile key recording that the migration has run.
const MarkerKey = "backend_migration_completed"

var errMissingTargetID = errors.New("backend returned no target id")

// Backend is the subset of *api.Client the migration needs.
type Backend interface {
	CreateTarget(ctx context.Context, req api.CreateTargetRequest) (*api.Target, error)
	CreateQueueEntry(ctx context.Context, req api.CreateQueueEntryRequest) (*api.QueueEntry, error)
}

// Report summarises one Run.
type Report struct {
	AlreadyMigrated bool              `json:"already_migrated" yaml:"already_migrated"`
	TenantID        int64             `json:"tenant_id" yaml:"tenant_id"`
	TargetsMigrated int               `json:"targets_migrated" yaml:"targets_migrated"`
	TargetsFailed   int               `json:"targets_failed" yaml:"targets_failed"`
	QueueMigrated   int               `json:"queue_migrated" yaml:"queue_migrated"`
	QueueFailed     int               `json:"queue_failed" yaml:"queue_failed"`
	QueueSkipped    int               `json:"queue_skipped" yaml:"queue_skipped"`
	TargetIDs       map[string]api.ID `json:"target_ids,omitempty" yaml:"target_ids,omitempty"`
	CompletedAt     time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Partial reports whether any item failed or was skipped.
func (r *Report) Partial() bool {
	return r.TargetsFailed > 0 || r.QueueFailed > 0 || r.QueueSkipped > 0
}

// Status is the persisted marker as seen by `migrate --status`.
type Status struct {
	Completed   bool      `json:"completed" yaml:"completed"`
	CompletedAt time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Migrator runs the one-time migration for the profile it was built on.
type Migrator struct {
	store     storage.Store
	cache     *localcache.Cache
	backend   Backend
	logger    *logger.Logger
	telemetry telemetry.Telemetry
	now       func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger for per-item progress.
func WithLogger(l *logger.Logger) Option {
	return func(m *Migrator) { m.logger = l }
}

// WithTelemetry counts migrated, failed and skipped items.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(m *Migrator) { m.telemetry = t }
}

// WithClock overrides the time written to the marker.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// New returns a Migrator reading cached items from cache, creating them
// through backend and recording the marker in store.
func New(store storage.Store, cache *localcache.Cache, backend Backend, opts ...Option) *Migrator {
	m := &Migrator{
		store:   store,
		cache:   cache,
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.NewNop()
	}
	if m.telemetry == nil {
		m.telemetry = telemetry.NewNoop()
	}
	m.logger = m.logger.WithComponent("migration")
	return m
}

// Status reads the marker without contacting the backend.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	raw, err := m.store.Get(ctx, MarkerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration marker: %w", err)
	}
	st := &Status{Completed: len(raw) > 0}
	if ts, err := time.Parse(time.RFC3339, string(raw)); err == nil {
		st.CompletedAt = ts
	}
	return st, nil
}

// Run performs the migration for tenantID unless the marker is already set.
//
// Item failures are logged and counted but never returned: the marker is
// written after the pass whatever happened to individual items, and failed
// items are not retried. Run only returns an error when it could not read
// the cache or marker, or when ctx ended mid-pass; in those cases the marker
// is left unset.
func (m *Migrator) Run(ctx context.Context, tenantID int64) (*Report, error) {
	start := time.Now()
	ctx, span := m.logger.StartOperation(ctx, "migration.Run", "tenant_id", tenantID)
	var err error
	defer func() {
		m.logger.FinishOperation(ctx, span, "migration.Run", start, err)
	}()

	report := &Report{TenantID: tenantID}

	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if status.Completed {
		report.AlreadyMigrated = true
		report.CompletedAt = status.CompletedAt
		return report, nil
	}

	targets, err := m.cache.Targets(ctx, tenantID)
	if err != nil {
		err = fmt.Errorf("failed to read cached targets: %w", err)
		return nil, err
	}
	pending, err := m.cache.PendingQueue(ctx, tenantID)
	if err != nil {
		err = fmt.Errorf("failed to read cached queue: %w", err)
		return nil, err
	}

	log := m.logger.WithTenant(tenantID)
	log.Infow("Migrating local cache to backend",
		"targets", len(targets),
		"pending_queue_entries", len(pending),
	)

	report.TargetIDs = make(map[string]api.ID, len(targets))
	for _, t := range targets {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		created, createErr := m.backend.CreateTarget(ctx, api.CreateTargetRequest{
			Name:        t.Name,
			URL:         t.URL,
			Description: t.Description,
			InScope:     t.InScope,
			OutOfScope:  t.OutOfScope,
		})
		if createErr == nil && (created == nil || created.ID == "") {
			createErr = errMissingTargetID
		}
		if createErr != nil {
			report.TargetsFailed++
			m.record(ctx, tenantID, "target", t.ID, "failed", "error", createErr.Error())
			continue
		}
		report.TargetIDs[t.ID] = created.ID
		report.TargetsMigrated++
		m.record(ctx, tenantID, "target", t.ID, "migrated", "backend_id", created.ID.String())
	}

	for _, e := range pending {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		backendID, ok := report.TargetIDs[e.TargetID]
		if !ok {
			report.QueueSkipped++
			m.record(ctx, tenantID, "queue_entry", e.ID, "skipped", "target_id", e.TargetID, "reason", "target not migrated")
			continue
		}
		_, createErr := m.backend.CreateQueueEntry(ctx, api.CreateQueueEntryRequest{
			TargetID:    backendID,
			ScheduledAt: e.ScheduledAt,
			Priority:    e.Priority,
			ScanType:    e.ScanType,
		})
		if createErr != nil {
			report.QueueFailed++
			m.record(ctx, tenantID, "queue_entry", e.ID, "failed", "error", createErr.Error())
			continue
		}
		report.QueueMigrated++
		m.record(ctx, tenantID, "queue_entry", e.ID, "migrated")
	}

	report.CompletedAt = m.now().UTC()
	if err = m.store.Set(ctx, MarkerKey, []byte(report.CompletedAt.Format(time.RFC3339))); err != nil {
		err = fmt.Errorf("failed to set migration marker: %w", err)
		return report, err
	}

	log.Infow("Local cache migration finished",
		"targets_migrated", report.TargetsMigrated,
		"targets_failed", report.TargetsFailed,
		"queue_migrated", report.QueueMigrated,
		"queue_failed", report.QueueFailed,
		"queue_skipped", report.QueueSkipped,
	)
	return report, nil
}

func (m *Migrator) record(ctx context.Context, tenantID int64, kind, localID, status string, fields ...interface{}) {
	m.logger.LogMigrationProgress(ctx, tenantID, kind, localID, status, fields...)
	m.telemetry.RecordMigrationItem(kind, status)
}
