package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cache lookup results recorded on feedplane.queue_cache.lookups.
const (
	LookupHit          = "hit"
	LookupMiss         = "miss"
	LookupShortCircuit = "short_circuit"
)

// Instruments groups the domain metrics. A nil *Instruments records nothing.
type Instruments struct {
	transitions  metric.Int64Counter
	rowsWritten  metric.Int64Counter
	rowsSkipped  metric.Int64Counter
	cacheLookups metric.Int64Counter
	generation   metric.Float64Histogram
	meter        metric.Meter
}

// NewInstruments creates the feedplane instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  = &Instruments{meter: meter}
		err error
	)

	in.transitions, err = meter.Int64Counter("feedplane.jobs.transitions",
		metric.WithDescription("Job status transitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}
	in.rowsWritten, err = meter.Int64Counter("feedplane.feed.rows_written",
		metric.WithDescription("Feed rows written"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rows_written counter: %w", err)
	}
	in.rowsSkipped, err = meter.Int64Counter("feedplane.feed.rows_skipped",
		metric.WithDescription("Products skipped because they could not be resolved"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rows_skipped counter: %w", err)
	}
	in.cacheLookups, err = meter.Int64Counter("feedplane.queue_cache.lookups",
		metric.WithDescription("Queue cache lookups by slot and result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookups counter: %w", err)
	}
	in.generation, err = meter.Float64Histogram("feedplane.feed.generation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall-clock time of feed generation runs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation histogram: %w", err)
	}
	return in, nil
}

// RegisterActiveJobs exposes feedplane.jobs.active, observed through count on every collection.
func (in *Instruments) RegisterActiveJobs(count func(ctx context.Context) (int64, error)) error {
	if in == nil {
		return nil
	}
	_, err := in.meter.Int64ObservableGauge("feedplane.jobs.active",
		metric.WithDescription("Jobs currently queued or processing"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}))
	return err
}

// JobTransition records a job entering status.
func (in *Instruments) JobTransition(ctx context.Context, feedType, status string) {
	if in == nil {
		return
	}
	in.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feed_type", feedType),
		attribute.String("status", status),
	))
}

// CacheLookup records one queue cache lookup.
func (in *Instruments) CacheLookup(ctx context.Context, slot, result string) {
	if in == nil {
		return
	}
	in.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("slot", slot),
		attribute.String("result", result),
	))
}

// FeedGenerated records the outcome of one generation run.
func (in *Instruments) FeedGenerated(ctx context.Context, feedType string, written, skipped int, elapsed time.Duration) {
	if in == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("feed_type", feedType))
	in.rowsWritten.Add(ctx, int64(written), attrs)
	in.rowsSkipped.Add(ctx, int64(skipped), attrs)
	in.generation.Record(ctx, elapsed.Seconds(), attrs)
}
