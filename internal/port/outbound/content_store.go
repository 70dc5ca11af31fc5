package outbound

import (
	"context"

	"quizgen/internal/domain/entity"

	"github.com/google/uuid"
)

// ContentStore is the downstream store approved items are promoted into on
// publish. The insert for each item runs inside the same transaction that
// marks the item published; a failed insert is counted, not fatal.
type ContentStore interface {
	// InsertQuestion writes one approved item downstream and returns the
	// external reference id.
	InsertQuestion(ctx context.Context, item *entity.QuestionItem) (uuid.UUID, error)
}
