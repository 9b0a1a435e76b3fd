package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job id is unknown to the store.
	ErrNotFound = errors.New("store: job not found")

	// ErrJobActive is returned when a job of the same feed type is already queued or processing.
	ErrJobActive = errors.New("store: a job of this feed type is already active")

	// ErrInvalidTransition is returned when a status change would move backwards
	// or out of a terminal state.
	ErrInvalidTransition = errors.New("store: invalid job status transition")

	// ErrConflict is returned when an update was based on a stale version of the job.
	ErrConflict = errors.New("store: job was modified concurrently")
)

// CheckUpdate reports whether job, read while in status from, may be written
// with its current status. Stores call it before their guarded update.
func CheckUpdate(from JobStatus, job *Job) error {
	if !CanTransition(from, job.Status) {
		return fmt.Errorf("job %s cannot move from %s to %s: %w", job.ID, from, job.Status, ErrInvalidTransition)
	}
	return nil
}
