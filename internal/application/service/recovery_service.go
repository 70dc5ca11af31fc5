package service

import (
	"context"
	"time"

	"quizgen/internal/application/common/slogger"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
)

const (
	// defaultStuckJobMaxAge is how long a job may sit in running before the
	// reaper considers its worker dead.
	defaultStuckJobMaxAge = 5 * time.Minute

	// defaultRecoveryInterval is how often the reaper scans.
	defaultRecoveryInterval = time.Minute
)

// RecoveryService requeues jobs abandoned in running, typically after a
// worker crash or a cancelled inline task. Requeued jobs go back through the
// normal dispatch path, so their batch loops resume from the persisted
// counters.
type RecoveryService struct {
	repo     outbound.JobRepository
	queue    outbound.JobQueue
	inline   *InlineExecutor
	maxAge   time.Duration
	interval time.Duration
}

// NewRecoveryService creates a reaper. Zero durations fall back to the
// defaults.
func NewRecoveryService(
	repo outbound.JobRepository,
	queue outbound.JobQueue,
	inline *InlineExecutor,
	maxAge time.Duration,
	interval time.Duration,
) *RecoveryService {
	if repo == nil {
		panic("repo cannot be nil")
	}
	if maxAge <= 0 {
		maxAge = defaultStuckJobMaxAge
	}
	if interval <= 0 {
		interval = defaultRecoveryInterval
	}
	return &RecoveryService{
		repo:     repo,
		queue:    queue,
		inline:   inline,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Run scans on the configured interval until the context is cancelled.
func (s *RecoveryService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RecoverOnce(ctx); err != nil {
				slogger.ErrorWithError(ctx, "Stuck job recovery pass failed", err, nil)
			}
		}
	}
}

// RecoverOnce requeues every currently stuck job and re-dispatches it.
func (s *RecoveryService) RecoverOnce(ctx context.Context) error {
	stuck, err := s.repo.FindStuckJobs(ctx, s.maxAge)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	slogger.Warn(ctx, "Found stuck jobs, requeueing", slogger.Fields{
		"count":   len(stuck),
		"max_age": s.maxAge.String(),
	})

	for _, jobID := range stuck {
		if err := s.requeue(ctx, jobID); err != nil {
			slogger.ErrorWithError(ctx, "Failed to requeue stuck job", err, slogger.Fields{
				"job_id": jobID.String(),
			})
		}
	}
	return nil
}

func (s *RecoveryService) requeue(ctx context.Context, jobID uuid.UUID) error {
	// running -> queued clears the stale claim; a worker that is in fact
	// still alive will find the job no longer runnable and skip it.
	if _, err := s.repo.SetStatus(ctx, jobID, valueobject.JobStatusQueued, nil, false); err != nil {
		return err
	}

	if s.queue != nil {
		if err := s.queue.EnqueueJob(ctx, jobID); err == nil {
			return nil
		}
	}
	if s.inline != nil {
		s.inline.Execute(ctx, jobID)
	}
	return nil
}
