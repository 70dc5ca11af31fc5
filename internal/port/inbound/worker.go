package inbound

import (
	"context"

	"github.com/google/uuid"
)

// JobProcessor drives exactly one job from running to a terminal batch-loop
// outcome (completed or failed). Implementations absorb transient batch
// failures internally; the returned error reflects infrastructure problems
// only, for the consumer's ack/nak decision.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID uuid.UUID) error
}

// WorkerService manages the lifetime of the queue consumer and its processors.
type WorkerService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() WorkerHealthStatus
}

// WorkerHealthStatus reports consumer liveness for health checks.
type WorkerHealthStatus struct {
	Running         bool   `json:"running"`
	BrokerReachable bool   `json:"broker_reachable"`
	ActiveJobs      int    `json:"active_jobs"`
	LastError       string `json:"last_error,omitempty"`
}
