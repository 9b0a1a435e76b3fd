// Package cache memoizes the "is there pending work" questions asked on hot paths.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedplane/internal/logger"
	"feedplane/internal/observability"
	"feedplane/internal/store"
)

// Scope describes the execution context a caller runs in.
// Only admin and background callers pay for a store query.
type Scope int

const (
	ScopePublic Scope = iota
	ScopeAdmin
	ScopeBackground
)

func (s Scope) String() string {
	switch s {
	case ScopeAdmin:
		return "admin"
	case ScopeBackground:
		return "background"
	default:
		return "public"
	}
}

// evaluates reports whether callers in this scope may query the store.
func (s Scope) evaluates() bool {
	return s == ScopeAdmin || s == ScopeBackground
}

// Slot names.
const (
	SlotQueueEmpty     = "queue_empty"
	SlotSyncInProgress = "sync_in_progress"
)

// Slot values.
const (
	valueEmpty    = "empty"
	valueNotEmpty = "not_empty"
	valueHasJobs  = "has_jobs"
	valueNoJobs   = "no_jobs"
)

// DefaultTTL bounds how long a memoized answer is trusted.
const DefaultTTL = 30 * time.Second

// JobQuerier is the part of store.JobStore the cache needs.
type JobQuerier interface {
	QueryJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error)
}

// Options configures a QueueCache.
type Options struct {
	// Prefix namespaces the slot keys so several queues can share one CacheStore.
	Prefix      string
	TTL         time.Duration
	Logger      *slog.Logger
	Instruments *observability.Instruments
}

// QueueCache answers existence questions about active jobs, memoizing the
// answer in a CacheStore for a short TTL. The store stays the source of truth.
type QueueCache struct {
	jobs    JobQuerier
	slots   store.CacheStore
	prefix  string
	ttl     time.Duration
	log     *slog.Logger
	metrics *observability.Instruments
}

// New creates a QueueCache.
func New(jobs JobQuerier, slots store.CacheStore, opts Options) *QueueCache {
	if opts.Prefix == "" {
		opts.Prefix = "feedplane"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &QueueCache{
		jobs:    jobs,
		slots:   slots,
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		log:     opts.Logger.With("component", "queue_cache"),
		metrics: opts.Instruments,
	}
}

func (c *QueueCache) queueEmptyKey() string {
	return c.prefix + ":" + SlotQueueEmpty
}

func (c *QueueCache) statusKey(status store.JobStatus) string {
	return c.prefix + ":" + SlotSyncInProgress + ":" + string(status)
}

// IsQueueEmpty reports whether no job is queued or processing.
// Public callers get false without a query.
func (c *QueueCache) IsQueueEmpty(ctx context.Context, scope Scope) (bool, error) {
	if !scope.evaluates() {
		c.metrics.CacheLookup(ctx, SlotQueueEmpty, observability.LookupShortCircuit)
		return false, nil
	}

	return c.lookup(ctx, SlotQueueEmpty, c.queueEmptyKey(), valueEmpty, valueNotEmpty,
		store.JobFilter{Statuses: store.ActiveStatuses, Limit: 1}, false)
}

// HasJobsInStatus reports whether any job currently holds status.
// Public callers get false without a query.
func (c *QueueCache) HasJobsInStatus(ctx context.Context, scope Scope, status store.JobStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("unknown job status %q", status)
	}
	if !scope.evaluates() {
		c.metrics.CacheLookup(ctx, SlotSyncInProgress, observability.LookupShortCircuit)
		return false, nil
	}

	return c.lookup(ctx, SlotSyncInProgress, c.statusKey(status), valueHasJobs, valueNoJobs,
		store.JobFilter{Statuses: []store.JobStatus{status}, Limit: 1}, true)
}

// lookup reads key and falls back to filter on a miss. The cached value is
// yes when the answer is true. When existsMeansYes is false the answer is
// true when no job matches.
func (c *QueueCache) lookup(ctx context.Context, slot, key, yes, no string, filter store.JobFilter, existsMeansYes bool) (bool, error) {
	value, ok, err := c.slots.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed, querying store", "slot", slot, "error", err)
		ok = false
	}
	if ok {
		switch value {
		case yes:
			c.metrics.CacheLookup(ctx, slot, observability.LookupHit)
			return true, nil
		case no:
			c.metrics.CacheLookup(ctx, slot, observability.LookupHit)
			return false, nil
		}
		c.log.Warn("ignoring unexpected cache value", "slot", slot, "value", value)
	}

	c.metrics.CacheLookup(ctx, slot, observability.LookupMiss)
	jobs, err := c.jobs.QueryJobs(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to query jobs for %s: %w", slot, err)
	}

	answer := len(jobs) > 0
	if !existsMeansYes {
		answer = !answer
	}

	stored := no
	if answer {
		stored = yes
	}
	if err := c.slots.Set(ctx, key, stored, c.ttl); err != nil {
		c.log.Warn("cache write failed", "slot", slot, "error", err)
	}
	return answer, nil
}

// Invalidate clears every slot. It is idempotent.
func (c *QueueCache) Invalidate(ctx context.Context) error {
	keys := make([]string, 0, len(store.AllStatuses)+1)
	keys = append(keys, c.queueEmptyKey())
	for _, st := range store.AllStatuses {
		keys = append(keys, c.statusKey(st))
	}
	if err := c.slots.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate queue cache: %w", err)
	}
	return nil
}
