package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"feedplane/internal/logger"
	"feedplane/internal/store"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	MaxBackoff   time.Duration // Maximum backoff when nothing is queued (default: 30s)
}

// JobLister finds queued jobs.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error)
}

// JobRunner runs one job to completion.
type JobRunner interface {
	Execute(ctx context.Context, job *store.Job) (*store.Job, error)
}

// Agent polls for queued jobs and hands them to a JobRunner. Claims are
// settled by the store's version check, so several agents may poll the same store.
type Agent struct {
	jobs   JobLister
	runner JobRunner
	config AgentConfig
	log    *slog.Logger
	done   chan struct{}

	mu      sync.Mutex
	running map[store.FeedType]bool
}

// NewAgent creates a new worker agent.
func NewAgent(jobs JobLister, runner JobRunner, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Agent{
		jobs:    jobs,
		runner:  runner,
		config:  config,
		log:     log.With("component", "agent", "agent_id", config.ID),
		done:    make(chan struct{}),
		running: make(map[store.FeedType]bool),
	}
}

// Run starts the poll loop. It blocks until the context is cancelled.
// On cancellation it stops claiming new work and waits for in-flight jobs.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	pollNow := make(chan struct{}, 1)

	// Grows while nothing is queued, resets when work is found.
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("context cancelled, waiting for running jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			queued, err := a.jobs.ListJobs(ctx, store.JobFilter{
				Statuses: []store.JobStatus{store.JobStatusQueued},
				Limit:    availableSlots,
			})
			if err != nil {
				if ctx.Err() == nil {
					a.log.Error("failed to list queued jobs", "error", err)
				}
				continue
			}

			claimable := a.claimable(queued)
			if len(claimable) == 0 {
				currentBackoff *= 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval

			for _, job := range claimable {
				sem <- struct{}{}
				wg.Add(1)
				go func(job *store.Job) {
					defer wg.Done()
					defer func() {
						a.release(job.FeedType)
						<-sem
						// A slot is free again; look for more work right away.
						triggerPoll()
					}()
					// Runs finish after shutdown begins; the executor's budget still bounds them.
					a.process(context.WithoutCancel(ctx), job)
				}(job)
			}
		}
	}
}

// claimable filters out jobs whose feed type this agent is already running and
// marks the rest as running.
func (a *Agent) claimable(queued []*store.Job) []*store.Job {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*store.Job
	for _, job := range queued {
		if a.running[job.FeedType] {
			continue
		}
		a.running[job.FeedType] = true
		out = append(out, job)
	}
	return out
}

func (a *Agent) release(feedType store.FeedType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.running, feedType)
}

func (a *Agent) process(ctx context.Context, job *store.Job) {
	log := a.log.With("job_id", job.ID, "feed_type", job.FeedType)

	final, err := a.runner.Execute(ctx, job)
	switch {
	case errors.Is(err, ErrNotClaimed):
		log.Debug("job claimed elsewhere")
	case err != nil:
		log.Warn("job did not complete", "error", err)
	default:
		log.Info("job finished", "status", final.Status)
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}
