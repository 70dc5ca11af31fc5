package valueobject

import "fmt"

// QCStatus is the quality-control verdict attached to a generated item.
type QCStatus string

// QC status constants.
const (
	QCStatusPass QCStatus = "pass"
	QCStatusFail QCStatus = "fail"
)

// NewQCStatus creates a QCStatus with validation.
func NewQCStatus(status string) (QCStatus, error) {
	s := QCStatus(status)
	if s != QCStatusPass && s != QCStatusFail {
		return "", fmt.Errorf("invalid qc status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s QCStatus) String() string {
	return string(s)
}

// ReviewStatus is the human-review state of a generated item.
type ReviewStatus string

// Review status constants.
const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// validReviewStatuses contains all valid review statuses.
var validReviewStatuses = map[ReviewStatus]bool{
	ReviewStatusPending:  true,
	ReviewStatusApproved: true,
	ReviewStatusRejected: true,
}

// NewReviewStatus creates a ReviewStatus with validation.
func NewReviewStatus(status string) (ReviewStatus, error) {
	s := ReviewStatus(status)
	if !validReviewStatuses[s] {
		return "", fmt.Errorf("invalid review status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s ReviewStatus) String() string {
	return string(s)
}

// DefaultReviewStatus derives the initial review state from the QC verdict.
// Items that pass QC are auto-approved; failed items wait for a human.
func DefaultReviewStatus(qc QCStatus) ReviewStatus {
	if qc == QCStatusPass {
		return ReviewStatusApproved
	}
	return ReviewStatusPending
}
