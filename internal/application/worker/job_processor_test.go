package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quizgen/internal/config"
	"quizgen/internal/domain/entity"
	domainerrors "quizgen/internal/domain/errors/domain"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobRepository is an in-memory JobRepository for one job.
type fakeJobRepository struct {
	mu sync.Mutex

	jobID       uuid.UUID
	status      valueobject.JobStatus
	requested   int
	generated   int
	passed      int
	failed      int
	retryCount  int
	usage       valueobject.TokenUsage
	jobErr      *entity.JobError
	payload     map[string]any
	startedAt   *time.Time
	completedAt *time.Time

	items  []*entity.QuestionItem
	events []*entity.JobEvent

	insertItemsErr error
	replacedItems  int
	removedItems   int
}

func newFakeJobRepository(requested int, payload map[string]any) *fakeJobRepository {
	if payload == nil {
		payload = map[string]any{"topic": "algebra", "difficulty": "medium"}
	}
	return &fakeJobRepository{
		jobID:     uuid.New(),
		status:    valueobject.JobStatusQueued,
		requested: requested,
		payload:   payload,
	}
}

func (r *fakeJobRepository) buildJob() *entity.GenerationJob {
	return entity.RestoreGenerationJob(
		r.jobID, r.status, r.requested, r.generated, r.passed, r.failed,
		r.usage, valueobject.CostBreakdown{}, r.retryCount, r.jobErr, r.payload,
		time.Now().Add(-time.Minute), time.Now(), r.startedAt, r.completedAt, nil,
	)
}

func (r *fakeJobRepository) GetJob(_ context.Context, jobID uuid.UUID) (*entity.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobID != r.jobID {
		return nil, domainerrors.ErrJobNotFound
	}
	return r.buildJob(), nil
}

func (r *fakeJobRepository) SetStatus(
	_ context.Context,
	jobID uuid.UUID,
	status valueobject.JobStatus,
	jobError *entity.JobError,
	incrementRetry bool,
) (*entity.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobID != r.jobID {
		return nil, domainerrors.ErrJobNotFound
	}
	if !r.status.CanTransitionTo(status) {
		return nil, fmt.Errorf("cannot transition from %s to %s", r.status, status)
	}

	now := time.Now()
	switch status {
	case valueobject.JobStatusRunning:
		if r.status == valueobject.JobStatusQueued {
			r.startedAt = &now
		}
	case valueobject.JobStatusCompleted, valueobject.JobStatusFailed:
		r.completedAt = &now
	}
	r.status = status
	if jobError != nil {
		r.jobErr = jobError
	} else if status != valueobject.JobStatusFailed {
		r.jobErr = nil
	}
	if incrementRetry {
		r.retryCount++
	}
	return r.buildJob(), nil
}

func (r *fakeJobRepository) UpdateMetrics(
	_ context.Context,
	jobID uuid.UUID,
	update outbound.MetricsUpdate,
) (*entity.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobID != r.jobID {
		return nil, domainerrors.ErrJobNotFound
	}
	if update.PassedInc+update.FailedInc != update.GeneratedInc {
		return nil, errors.New("invalid metrics split")
	}
	r.generated += update.GeneratedInc
	r.passed += update.PassedInc
	r.failed += update.FailedInc
	r.usage = r.usage.Add(update.GeneratorUsage).Add(update.ValidatorUsage)
	return r.buildJob(), nil
}

func (r *fakeJobRepository) InsertItems(_ context.Context, _ uuid.UUID, items []*entity.QuestionItem) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertItemsErr != nil {
		return 0, r.insertItemsErr
	}
	r.items = append(r.items, items...)
	return len(items), nil
}

func (r *fakeJobRepository) ListItems(_ context.Context, _ uuid.UUID) ([]*entity.QuestionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.QuestionItem(nil), r.items...), nil
}

func (r *fakeJobRepository) ListItemQuestions(_ context.Context, _ uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	questions := make([]string, 0, len(r.items))
	for _, item := range r.items {
		questions = append(questions, item.Question)
	}
	return questions, nil
}

func (r *fakeJobRepository) ReplaceItem(_ context.Context, itemID uuid.UUID, replacement *entity.QuestionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, item := range r.items {
		if item.ID == itemID {
			replaced := *replacement
			replaced.ID = itemID
			replaced.Edited = true
			r.items[i] = &replaced
			r.replacedItems++
			return nil
		}
	}
	return domainerrors.ErrItemNotFound
}

func (r *fakeJobRepository) RemoveItems(_ context.Context, itemIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	remove := make(map[uuid.UUID]bool, len(itemIDs))
	for _, id := range itemIDs {
		remove[id] = true
	}
	kept := r.items[:0]
	for _, item := range r.items {
		if !remove[item.ID] {
			kept = append(kept, item)
			continue
		}
		r.removedItems++
	}
	r.items = kept
	return nil
}

func (r *fakeJobRepository) InsertEvent(_ context.Context, event *entity.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeJobRepository) ListEvents(_ context.Context, _ uuid.UUID, _ int) ([]*entity.JobEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.JobEvent(nil), r.events...), nil
}

func (r *fakeJobRepository) CreateJob(context.Context, outbound.CreateJobParams) (*entity.GenerationJob, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeJobRepository) ListJobs(context.Context, outbound.JobFilters) ([]*entity.GenerationJob, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (r *fakeJobRepository) SetReviewStatus(context.Context, uuid.UUID, valueobject.ReviewStatus) error {
	return errors.New("not implemented")
}

func (r *fakeJobRepository) PublishItems(context.Context, uuid.UUID, outbound.PublishRequest) (*outbound.PublishResult, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeJobRepository) FindStuckJobs(context.Context, time.Duration) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *fakeJobRepository) eventTypes() []entity.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]entity.EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

// fakeQueue records progress broadcasts.
type fakeQueue struct {
	mu       sync.Mutex
	progress []outbound.ProgressEvent
}

func (q *fakeQueue) EnqueueJob(context.Context, uuid.UUID) error { return nil }

func (q *fakeQueue) PublishProgress(_ context.Context, event outbound.ProgressEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress = append(q.progress, event)
	return nil
}

func (q *fakeQueue) Available(context.Context) bool { return true }

// fakeGenerator replays scripted responses.
type fakeGenerator struct {
	mu           sync.Mutex
	responses    []string
	calls        int
	correctCalls int
	correctResp  string
	err          error
}

func (g *fakeGenerator) Generate(context.Context, outbound.GenerationRequest) (string, valueobject.TokenUsage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", valueobject.TokenUsage{}, g.err
	}
	response := g.responses[g.calls%len(g.responses)]
	g.calls++
	return response, valueobject.NewTokenUsage(1000, 500), nil
}

func (g *fakeGenerator) Correct(context.Context, outbound.CorrectionRequest) (string, valueobject.TokenUsage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.correctCalls++
	if g.correctResp == "" {
		return "", valueobject.TokenUsage{}, errors.New("no correction scripted")
	}
	return g.correctResp, valueobject.NewTokenUsage(200, 100), nil
}

// fakeValidator echoes scripted QC output.
type fakeValidator struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (v *fakeValidator) Validate(_ context.Context, _ string, _ string) (string, valueobject.TokenUsage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	response := v.responses[v.calls%len(v.responses)]
	v.calls++
	return response, valueobject.NewTokenUsage(800, 400), nil
}

func batchJSON(prefix string, count int, status string) string {
	out := `{"questions":[`
	for i := 0; i < count; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(
			`{"question":"%s question %d?","options":["a%d","b%d","c%d","d%d"],"correct_answer":"a%d","explanation":"because","qc_status":%q}`,
			prefix, i, i, i, i, i, i, status,
		)
	}
	return out + `]}`
}

func testGenConfig() config.GenerationConfig {
	return config.GenerationConfig{
		BatchSize:           5,
		MaxRetries:          3,
		MaxPerJob:           100,
		AvoidListSize:       50,
		SelfCorrectionLimit: 10,
		DedupThreshold:      0.80,
		QCPassThreshold:     70,
	}
}

func TestProcessJob_CompletesInOneBatch(t *testing.T) {
	repo := newFakeJobRepository(5, nil)
	queue := &fakeQueue{}
	generator := &fakeGenerator{responses: []string{"raw batch"}}
	validator := &fakeValidator{responses: []string{batchJSON("calc", 5, "pass")}}

	processor := NewJobProcessor(repo, queue, generator, validator, nil, testGenConfig(), 0)

	err := processor.ProcessJob(context.Background(), repo.jobID)
	require.NoError(t, err)

	assert.Equal(t, valueobject.JobStatusCompleted, repo.status)
	assert.Equal(t, 5, repo.generated)
	assert.Equal(t, 5, repo.passed)
	assert.Zero(t, repo.failed)
	assert.Len(t, repo.items, 5)
	assert.Equal(t,
		[]entity.EventType{entity.EventTypeStarted, entity.EventTypeBatchDone, entity.EventTypeCompleted},
		repo.eventTypes(),
	)

	require.NotEmpty(t, queue.progress)
	final := queue.progress[len(queue.progress)-1]
	assert.Equal(t, 100, final.ProgressPercent)
	assert.Equal(t, valueobject.JobStatusCompleted.String(), final.Status)
}

func TestProcessJob_MultipleBatches(t *testing.T) {
	repo := newFakeJobRepository(8, nil)
	generator := &fakeGenerator{responses: []string{"raw"}}
	validator := &fakeValidator{responses: []string{
		batchJSON("first", 5, "pass"),
		batchJSON("second", 3, "pass"),
	}}

	processor := NewJobProcessor(repo, &fakeQueue{}, generator, validator, nil, testGenConfig(), 0)

	require.NoError(t, processor.ProcessJob(context.Background(), repo.jobID))

	assert.Equal(t, valueobject.JobStatusCompleted, repo.status)
	assert.Equal(t, 8, repo.generated)
	assert.Equal(t, 2, generator.calls, "second batch should only ask for the remainder")
}

func TestProcessJob_UnparseableOutputExhaustsRetryBudget(t *testing.T) {
	repo := newFakeJobRepository(5, nil)
	queue := &fakeQueue{}
	generator := &fakeGenerator{responses: []string{"raw"}}
	validator := &fakeValidator{responses: []string{"sorry, I cannot do that"}}

	genConfig := testGenConfig()
	genConfig.MaxRetries = 1

	processor := NewJobProcessor(repo, queue, generator, validator, nil, genConfig, 0)

	err := processor.ProcessJob(context.Background(), repo.jobID)
	require.NoError(t, err, "terminal failure is an outcome, not an infrastructure error")

	assert.Equal(t, valueobject.JobStatusFailed, repo.status)
	assert.GreaterOrEqual(t, repo.retryCount, 2)
	require.NotNil(t, repo.jobErr)
	assert.Contains(t, repo.jobErr.Message, "parse")

	types := repo.eventTypes()
	assert.Contains(t, types, entity.EventTypeBatchFailed)
	assert.Equal(t, entity.EventTypeFailed, types[len(types)-1])

	// The terminal broadcast reflects the transition just made, not the
	// entity loaded before it.
	require.NotEmpty(t, queue.progress)
	final := queue.progress[len(queue.progress)-1]
	assert.Equal(t, valueobject.JobStatusFailed.String(), final.Status)
	assert.NotEmpty(t, final.Error)
}

func TestProcessJob_TransientFailureThenRecovery(t *testing.T) {
	repo := newFakeJobRepository(5, nil)
	generator := &fakeGenerator{responses: []string{"raw"}}
	validator := &fakeValidator{responses: []string{
		"not json at all",
		batchJSON("recovered", 5, "pass"),
	}}

	processor := NewJobProcessor(repo, &fakeQueue{}, generator, validator, nil, testGenConfig(), 0)

	require.NoError(t, processor.ProcessJob(context.Background(), repo.jobID))

	assert.Equal(t, valueobject.JobStatusCompleted, repo.status)
	assert.Equal(t, 1, repo.retryCount)
	assert.Equal(t, 5, repo.generated)
}

func TestProcessJob_SelfCorrectionReplacesFailedItems(t *testing.T) {
	repo := newFakeJobRepository(3, nil)
	generator := &fakeGenerator{
		responses:   []string{"raw"},
		correctResp: batchJSON("fixed", 2, "pass"),
	}
	validator := &fakeValidator{responses: []string{
		// First call reviews the batch: 1 pass, 2 fail. Second call reviews
		// the correction round.
		`{"questions":[
			{"question":"good?","options":["a","b","c","d"],"correct_answer":"a","qc_status":"pass"},
			{"question":"bad one?","options":["a","b","c","d"],"correct_answer":"b","qc_status":"fail","violations":["unclear"]},
			{"question":"bad two?","options":["a","b","c","d"],"correct_answer":"c","qc_status":"fail","violations":["wrong"]}
		]}`,
		batchJSON("fixed", 2, "pass"),
	}}

	processor := NewJobProcessor(repo, &fakeQueue{}, generator, validator, nil, testGenConfig(), 0)

	require.NoError(t, processor.ProcessJob(context.Background(), repo.jobID))

	assert.Equal(t, valueobject.JobStatusCompleted, repo.status)
	assert.Equal(t, 1, generator.correctCalls, "exactly one corrective round")
	assert.Equal(t, 2, repo.replacedItems)
	assert.Equal(t, 3, repo.passed, "replacements flip fail to pass")
	assert.Zero(t, repo.failed)
}

func TestProcessJob_SelfCorrectionSkippedAboveLimit(t *testing.T) {
	repo := newFakeJobRepository(11, nil)
	generator := &fakeGenerator{responses: []string{"raw"}}
	validator := &fakeValidator{responses: []string{batchJSON("all-bad", 11, "fail")}}

	genConfig := testGenConfig()
	genConfig.BatchSize = 11

	processor := NewJobProcessor(repo, &fakeQueue{}, generator, validator, nil, genConfig, 0)

	require.NoError(t, processor.ProcessJob(context.Background(), repo.jobID))

	assert.Zero(t, generator.correctCalls, "more than the limit of failed items gates correction off")
	assert.Equal(t, 11, repo.failed)
}

func TestProcessJob_DropsNearDuplicates(t *testing.T) {
	repo := newFakeJobRepository(2, nil)
	existing := entity.NewQuestionItem(
		repo.jobID,
		"What is the capital of France?",
		[]string{"Paris", "Lyon", "Nice", "Lille"},
		"Paris", "", "easy", valueobject.QCStatusPass,
	)
	repo.items = append(repo.items, existing)
	repo.generated, repo.passed = 1, 1

	generator := &fakeGenerator{responses: []string{"raw"}}
	validator := &fakeValidator{responses: []string{
		`{"questions":[
			{"question":"What is the capital of France?","options":["Paris","Lyon","Nice","Lille"],"correct_answer":"Paris","qc_status":"pass"},
			{"question":"Which planet is known as the red planet?","options":["Mars","Venus","Jupiter","Saturn"],"correct_answer":"Mars","qc_status":"pass"}
		]}`,
	}}

	processor := NewJobProcessor(repo, &fakeQueue{}, generator, validator, nil, testGenConfig(), 0)

	require.NoError(t, processor.ProcessJob(context.Background(), repo.jobID))

	assert.Equal(t, valueobject.JobStatusCompleted, repo.status)
	assert.Equal(t, 2, repo.generated, "duplicate dropped, only the fresh question counted")
	assert.Len(t, repo.items, 2)
	assert.Equal(t, 1, repo.removedItems, "the stored duplicate row is deleted again")
}

func TestProcessJob_InfrastructureErrorPropagates(t *testing.T) {
	repo := newFakeJobRepository(5, nil)
	repo.insertItemsErr = errors.New("connection refused")
	generator := &fakeGenerator{responses: []string{"raw"}}
	validator := &fakeValidator{responses: []string{batchJSON("x", 5, "pass")}}

	processor := NewJobProcessor(repo, &fakeQueue{}, generator, validator, nil, testGenConfig(), 0)

	err := processor.ProcessJob(context.Background(), repo.jobID)
	require.Error(t, err, "repository failures go back to the consumer for redelivery")
	assert.Equal(t, valueobject.JobStatusRunning, repo.status)
}

func TestProcessJob_SkipsTerminalJob(t *testing.T) {
	repo := newFakeJobRepository(5, nil)
	repo.status = valueobject.JobStatusCompleted

	processor := NewJobProcessor(repo, &fakeQueue{}, &fakeGenerator{responses: []string{"raw"}},
		&fakeValidator{responses: []string{"{}"}}, nil, testGenConfig(), 0)

	require.NoError(t, processor.ProcessJob(context.Background(), repo.jobID))
	assert.Empty(t, repo.eventTypes(), "no events for a redelivered terminal job")
}
