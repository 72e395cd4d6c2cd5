// Package localcache keeps targets and queue entries in the profile store,
// namespaced per tenant, until they are migrated to the backend.
package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/storage"
)

// Keys written by clients that predate tenant namespacing.
const (
	LegacyTargetsKey = "targets"
	LegacyQueueKey   = "queue"
)

var (
	ErrTargetNotFound = errors.New("target not found in local cache")
	ErrInvalidTarget  = errors.New("invalid target")
	ErrInvalidEntry   = errors.New("invalid queue entry")
)

type QueueStatus string

const (
	StatusPending   QueueStatus = "pending"
	StatusRunning   QueueStatus = "running"
	StatusCompleted QueueStatus = "completed"
	StatusFailed    QueueStatus = "failed"
	StatusCancelled QueueStatus = "cancelled"
)

type Target struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	URL         string    `json:"url" yaml:"url"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	InScope     []string  `json:"in_scope,omitempty" yaml:"in_scope,omitempty"`
	OutOfScope  []string  `json:"out_of_scope,omitempty" yaml:"out_of_scope,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

type QueueEntry struct {
	ID          string      `json:"id" yaml:"id"`
	TargetID    string      `json:"target_id" yaml:"target_id"`
	ScheduledAt time.Time   `json:"scheduled_at" yaml:"scheduled_at"`
	Priority    int         `json:"priority" yaml:"priority"`
	Status      QueueStatus `json:"status" yaml:"status"`
	ScanType    string      `json:"scan_type,omitempty" yaml:"scan_type,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
}

func TargetsKey(tenantID int64) string {
	return fmt.Sprintf("tenant_%d_targets", tenantID)
}

func QueueKey(tenantID int64) string {
	return fmt.Sprintf("tenant_%d_queue", tenantID)
}

// Cache reads and writes tenant-scoped lists. Each list is one JSON blob,
// so writers are serialised to keep read-modify-write cycles intact.
type Cache struct {
	store storage.Store
	mu    sync.RWMutex
	now   func() time.Time
}

func New(store storage.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

func (c *Cache) Targets(ctx context.Context, tenantID int64) ([]Target, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var targets []Target
	if err := c.load(ctx, TargetsKey(tenantID), &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (c *Cache) Target(ctx context.Context, tenantID int64, id string) (*Target, error) {
	targets, err := c.Targets(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		if targets[i].ID == id {
			return &targets[i], nil
		}
	}
	return nil, ErrTargetNotFound
}

func (c *Cache) AddTarget(ctx context.Context, tenantID int64, t Target) (Target, error) {
	t.Name = strings.TrimSpace(t.Name)
	t.URL = strings.TrimSpace(t.URL)
	if t.Name == "" || t.URL == "" {
		return Target{}, fmt.Errorf("%w: name and url are required", ErrInvalidTarget)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = c.now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []Target
	if err := c.load(ctx, TargetsKey(tenantID), &targets); err != nil {
		return Target{}, err
	}
	for _, existing := range targets {
		if existing.ID == t.ID {
			return Target{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidTarget, t.ID)
		}
	}
	targets = append(targets, t)
	if err := c.save(ctx, TargetsKey(tenantID), targets); err != nil {
		return Target{}, err
	}
	return t, nil
}

// RemoveTarget deletes a target and every queue entry that references it.
func (c *Cache) RemoveTarget(ctx context.Context, tenantID int64, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []Target
	if err := c.load(ctx, TargetsKey(tenantID), &targets); err != nil {
		return err
	}

	kept := targets[:0]
	found := false
	for _, t := range targets {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return ErrTargetNotFound
	}

	var queue []QueueEntry
	if err := c.load(ctx, QueueKey(tenantID), &queue); err != nil {
		return err
	}
	keptQueue := queue[:0]
	for _, e := range queue {
		if e.TargetID != id {
			keptQueue = append(keptQueue, e)
		}
	}

	if err := c.save(ctx, TargetsKey(tenantID), kept); err != nil {
		return err
	}
	return c.save(ctx, QueueKey(tenantID), keptQueue)
}

func (c *Cache) Queue(ctx context.Context, tenantID int64) ([]QueueEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var queue []QueueEntry
	if err := c.load(ctx, QueueKey(tenantID), &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// PendingQueue returns the entries still waiting to run.
func (c *Cache) PendingQueue(ctx context.Context, tenantID int64) ([]QueueEntry, error) {
	queue, err := c.Queue(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	pending := make([]QueueEntry, 0, len(queue))
	for _, e := range queue {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// AddQueueEntry schedules a scan for a target already present in the cache.
func (c *Cache) AddQueueEntry(ctx context.Context, tenantID int64, e QueueEntry) (QueueEntry, error) {
	if e.TargetID == "" {
		return QueueEntry{}, fmt.Errorf("%w: target id is required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now().UTC()
	}
	if e.ScheduledAt.IsZero() {
		e.ScheduledAt = e.CreatedAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []Target
	if err := c.load(ctx, TargetsKey(tenantID), &targets); err != nil {
		return QueueEntry{}, err
	}
	known := false
	for _, t := range targets {
		if t.ID == e.TargetID {
			known = true
			break
		}
	}
	if !known {
		return QueueEntry{}, ErrTargetNotFound
	}

	var queue []QueueEntry
	if err := c.load(ctx, QueueKey(tenantID), &queue); err != nil {
		return QueueEntry{}, err
	}
	queue = append(queue, e)
	if err := c.save(ctx, QueueKey(tenantID), queue); err != nil {
		return QueueEntry{}, err
	}
	return e, nil
}

// ClearLegacy removes the unscoped keys so one tenant's leftovers are never
// shown to another.
func (c *Cache) ClearLegacy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, LegacyTargetsKey, LegacyQueueKey)
}

// TenantSummary counts what one tenant has cached on this machine.
type TenantSummary struct {
	TenantID int64 `json:"tenant_id" yaml:"tenant_id"`
	Targets  int   `json:"targets" yaml:"targets"`
	Queue    int   `json:"queue" yaml:"queue"`
	Pending  int   `json:"pending" yaml:"pending"`
}

// Summaries lists every tenant namespace present in the profile, ordered
// by tenant id.
func (c *Cache) Summaries(ctx context.Context) ([]TenantSummary, error) {
	keys, err := c.store.Keys(ctx, "tenant_")
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, k := range keys {
		id, ok := tenantOfKey(k)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	summaries := make([]TenantSummary, 0, len(ids))
	for _, id := range ids {
		targets, err := c.Targets(ctx, id)
		if err != nil {
			return nil, err
		}
		queue, err := c.Queue(ctx, id)
		if err != nil {
			return nil, err
		}
		sum := TenantSummary{TenantID: id, Targets: len(targets), Queue: len(queue)}
		for _, e := range queue {
			if e.Status == StatusPending {
				sum.Pending++
			}
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// tenantOfKey parses tenant_<id>_targets and tenant_<id>_queue.
func tenantOfKey(key string) (int64, bool) {
	rest := strings.TrimPrefix(key, "tenant_")
	i := strings.Index(rest, "_")
	if i <= 0 {
		return 0, false
	}
	switch rest[i+1:] {
	case "targets", "queue":
	default:
		return 0, false
	}
	id, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *Cache) load(ctx context.Context, key string, dst interface{}) error {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return nil
}

func (c *Cache) save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, data)
}
