package service

import (
	"context"
	"sync"

	"quizgen/internal/application/common/slogger"
	"quizgen/internal/port/inbound"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// InlineExecutor runs jobs as in-process tasks when the queue broker is
// unavailable. Each job runs detached from the request context so an API
// caller disconnecting does not kill the batch loop; a crash mid-job leaves
// the job running, which the recovery service requeues later.
type InlineExecutor struct {
	processor inbound.JobProcessor
	group     *errgroup.Group
	pending   sync.WaitGroup
}

// NewInlineExecutor creates an executor running at most concurrency jobs at
// once.
func NewInlineExecutor(processor inbound.JobProcessor, concurrency int) *InlineExecutor {
	if processor == nil {
		panic("processor cannot be nil")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	group := &errgroup.Group{}
	group.SetLimit(concurrency)

	return &InlineExecutor{
		processor: processor,
		group:     group,
	}
}

// Execute schedules one job for inline processing. It returns immediately;
// the job runs in the background within the concurrency limit. When every
// slot is busy the wait for a free slot happens on a detached goroutine so
// a saturated executor never stalls the caller.
func (e *InlineExecutor) Execute(ctx context.Context, jobID uuid.UUID) {
	runCtx := context.WithoutCancel(ctx)

	run := func() error {
		slogger.Info(runCtx, "Running job inline, broker unavailable", slogger.Fields{
			"job_id": jobID.String(),
		})
		if err := e.processor.ProcessJob(runCtx, jobID); err != nil {
			slogger.ErrorWithError(runCtx, "Inline job execution failed", err, slogger.Fields{
				"job_id": jobID.String(),
			})
		}
		// Errors stay internal: inline execution has no redelivery to
		// trigger, recovery handles whatever is left running.
		return nil
	}

	if e.group.TryGo(run) {
		return
	}

	slogger.Warn(runCtx, "Inline executor saturated, deferring job", slogger.Fields{
		"job_id": jobID.String(),
	})
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		e.group.Go(run)
	}()
}

// Wait blocks until all scheduled jobs have finished, deferred ones
// included. Used on shutdown.
func (e *InlineExecutor) Wait() {
	e.pending.Wait()
	_ = e.group.Wait()
}
