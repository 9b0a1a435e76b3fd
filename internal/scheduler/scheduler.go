// Package scheduler decides when a feed is due and drives one generation run per tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"feedplane/internal/cache"
	"feedplane/internal/logger"
	"feedplane/internal/store"
	"feedplane/internal/worker"

	"github.com/robfig/cron/v3"
)

// State is where a feed sits in the scheduling cycle.
type State string

const (
	StateIdle     State = "idle"
	StateDue      State = "due"
	StateRunning  State = "running"
	StateCooldown State = "cooldown"
)

// ErrUnknownFeed is returned when ticking a feed type that has no schedule.
var ErrUnknownFeed = errors.New("scheduler: feed type is not scheduled")

// Lifecycle is the job state machine the scheduler drives.
type Lifecycle interface {
	CreateJob(ctx context.Context, payload store.Payload) (*store.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error)
	ReclaimStale(ctx context.Context, feedType store.FeedType, threshold time.Duration) (int, error)
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)
}

// QueueChecker answers whether any job is pending at all.
type QueueChecker interface {
	IsQueueEmpty(ctx context.Context, scope cache.Scope) (bool, error)
}

// Runner runs a created job to a terminal state.
type Runner interface {
	Execute(ctx context.Context, job *store.Job) (*store.Job, error)
}

// Feed describes one scheduled feed.
type Feed struct {
	// Payload builds the job payload for a run; its FeedType identifies the feed.
	Payload func() store.Payload
	// Interval is the minimum time between successful runs.
	Interval time.Duration
}

// Config configures a Scheduler.
type Config struct {
	// Schedule is a cron spec for ticks, e.g. "@every 15m" or "*/5 * * * *".
	Schedule string
	// PurgeSchedule runs retention cleanup; empty uses "@hourly".
	PurgeSchedule string
	StaleAfter    time.Duration
	Retention     time.Duration
	Logger        *slog.Logger
}

// Outcome reports what a tick did.
type Outcome struct {
	FeedType store.FeedType
	State    State
	Job      *store.Job
	// Reason explains a skipped tick.
	Reason string
}

// Scheduler ticks every registered feed. Ticks of the same feed never overlap
// within a process; across processes the store's one-active-job rule decides.
type Scheduler struct {
	life   Lifecycle
	queue  QueueChecker
	runner Runner
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	feeds  map[store.FeedType]Feed
	states map[store.FeedType]State
}

// New creates a Scheduler.
func New(life Lifecycle, queue QueueChecker, runner Runner, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.PurgeSchedule == "" {
		cfg.PurgeSchedule = "@hourly"
	}
	return &Scheduler{
		life:   life,
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		log:    cfg.Logger.With("component", "scheduler"),
		now:    time.Now,
		feeds:  make(map[store.FeedType]Feed),
		states: make(map[store.FeedType]State),
	}
}

// Register schedules feed. Registering the same feed type again replaces it.
func (s *Scheduler) Register(feed Feed) {
	ft := feed.Payload().FeedType()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[ft] = feed
	if _, ok := s.states[ft]; !ok {
		s.states[ft] = StateIdle
	}
}

// State returns the current state of feedType.
func (s *Scheduler) State(feedType store.FeedType) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[feedType]
	return st, ok
}

// FeedTypes lists the registered feed types in name order.
func (s *Scheduler) FeedTypes() []store.FeedType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.FeedType, 0, len(s.feeds))
	for ft := range s.feeds {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Scheduler) setState(ft store.FeedType, st State) {
	s.mu.Lock()
	s.states[ft] = st
	s.mu.Unlock()
}

// enter moves ft out of idle/cooldown into due, refusing when a tick is already in flight here.
func (s *Scheduler) enter(ft store.FeedType) (Feed, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[ft]
	if !ok {
		return Feed{}, false, fmt.Errorf("%w: %q", ErrUnknownFeed, ft)
	}
	if st := s.states[ft]; st == StateDue || st == StateRunning {
		return feed, false, nil
	}
	s.states[ft] = StateDue
	return feed, true, nil
}

// Tick evaluates feedType once. Unless force is set, a feed whose last
// successful run is younger than its interval is left in cooldown.
func (s *Scheduler) Tick(ctx context.Context, feedType store.FeedType, force bool) (Outcome, error) {
	out := Outcome{FeedType: feedType}
	log := s.log.With("feed_type", feedType)

	feed, entered, err := s.enter(feedType)
	if err != nil {
		return out, err
	}
	if !entered {
		out.State = StateRunning
		out.Reason = "tick already in progress"
		return out, nil
	}
	// Whatever happens below, the feed leaves due/running.
	final := StateIdle
	defer func() { s.setState(feedType, final) }()

	// A crashed run must not block the feed forever.
	if n, err := s.life.ReclaimStale(ctx, feedType, s.cfg.StaleAfter); err != nil {
		log.Error("failed to reclaim stale jobs", "error", err, "error_kind", "transient")
	} else if n > 0 {
		log.Warn("reclaimed stale jobs", "count", n)
	}

	if !force {
		wait, err := s.cooldownLeft(ctx, feedType, feed.Interval)
		if err != nil {
			return out, err
		}
		if wait > 0 {
			final = StateCooldown
			out.State = StateCooldown
			out.Reason = fmt.Sprintf("last successful run is recent; due in %s", wait.Round(time.Second))
			return out, nil
		}
	}

	busy, err := s.active(ctx, feedType)
	if err != nil {
		return out, err
	}
	if busy {
		out.State = StateRunning
		out.Reason = "a job of this feed type is already active"
		log.Debug("skipping tick", "reason", out.Reason)
		return out, nil
	}

	job, err := s.life.CreateJob(ctx, feed.Payload())
	if err != nil {
		if errors.Is(err, store.ErrJobActive) {
			out.State = StateRunning
			out.Reason = "a job of this feed type is already active"
			return out, nil
		}
		return out, err
	}

	s.setState(feedType, StateRunning)
	log.Info("feed run starting", "job_id", job.ID)

	finished, err := s.runner.Execute(ctx, job)
	if errors.Is(err, worker.ErrNotClaimed) {
		// An agent picked the job up first and runs it to completion.
		out.State = StateRunning
		out.Reason = "job was claimed by another worker"
		log.Info("feed run claimed elsewhere", "job_id", job.ID)
		return out, nil
	}
	out.Job = finished
	out.State = StateIdle
	if err != nil {
		return out, fmt.Errorf("feed run %s: %w", job.ID, err)
	}
	final = StateCooldown
	out.State = StateCooldown
	log.Info("feed run finished", "job_id", job.ID, "status", finished.Status)
	return out, nil
}

// cooldownLeft returns how long until feedType is due again.
func (s *Scheduler) cooldownLeft(ctx context.Context, feedType store.FeedType, interval time.Duration) (time.Duration, error) {
	if interval <= 0 {
		return 0, nil
	}
	last, err := s.life.ListJobs(ctx, store.JobFilter{
		Statuses: []store.JobStatus{store.JobStatusCompleted},
		FeedType: feedType,
		Newest:   true,
		Limit:    1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find last %s run: %w", feedType, err)
	}
	if len(last) == 0 || last[0].CompletedAt == nil {
		return 0, nil
	}
	return last[0].CompletedAt.Add(interval).Sub(s.now()), nil
}

// active reports whether feedType has a queued or processing job. The queue
// cache answers the common case of an empty queue without a targeted query.
func (s *Scheduler) active(ctx context.Context, feedType store.FeedType) (bool, error) {
	empty, err := s.queue.IsQueueEmpty(ctx, cache.ScopeBackground)
	if err != nil {
		return false, fmt.Errorf("failed to check queue: %w", err)
	}
	if empty {
		return false, nil
	}
	jobs, err := s.life.ListJobs(ctx, store.JobFilter{
		Statuses: store.ActiveStatuses,
		FeedType: feedType,
		Limit:    1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check active %s jobs: %w", feedType, err)
	}
	return len(jobs) > 0, nil
}

// TickAll ticks every registered feed, logging failures.
func (s *Scheduler) TickAll(ctx context.Context) []Outcome {
	var outcomes []Outcome
	for _, ft := range s.FeedTypes() {
		out, err := s.Tick(ctx, ft, false)
		if err != nil {
			s.log.Error("scheduled tick failed", "feed_type", ft, "error", err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Purge removes terminal jobs older than the retention window.
func (s *Scheduler) Purge(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	if _, err := s.life.PurgeExpired(ctx, s.cfg.Retention); err != nil {
		s.log.Error("retention purge failed", "error", err)
	}
}

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses as a cron schedule.
func ValidateSchedule(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}

// Run drives TickAll and Purge on their cron schedules until ctx is cancelled,
// then waits for running ticks to return.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.TickAll(ctx) }); err != nil {
		return fmt.Errorf("invalid feed schedule %q: %w", s.cfg.Schedule, err)
	}
	if _, err := c.AddFunc(s.cfg.PurgeSchedule, func() { s.Purge(ctx) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.cfg.PurgeSchedule, err)
	}

	s.log.Info("scheduler starting", "schedule", s.cfg.Schedule, "feeds", len(s.FeedTypes()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
