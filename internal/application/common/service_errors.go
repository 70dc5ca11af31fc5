package common

import "fmt"

// Operation names used in wrapped service errors.
const (
	OpCreateJob     = "create job"
	OpGetJob        = "get job"
	OpListJobs      = "list jobs"
	OpListItems     = "list items"
	OpRestartJob    = "restart job"
	OpPublishItems  = "publish items"
	OpReviewItem    = "review item"
	OpEnqueueJob    = "enqueue job"
	OpRecoverJobs   = "recover stuck jobs"
	OpInlineExecute = "execute job inline"
)

// WrapServiceError wraps an underlying error with the failed operation.
func WrapServiceError(operation string, err error) error {
	return fmt.Errorf("failed to %s: %w", operation, err)
}
