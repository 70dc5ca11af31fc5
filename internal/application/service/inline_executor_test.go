package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingProcessor holds every job until release is closed.
type blockingProcessor struct {
	mu        sync.Mutex
	release   chan struct{}
	processed []uuid.UUID
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{release: make(chan struct{})}
}

func (p *blockingProcessor) ProcessJob(_ context.Context, jobID uuid.UUID) error {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, jobID)
	return nil
}

func (p *blockingProcessor) processedIDs() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.processed...)
}

func TestInlineExecutor_ExecuteDoesNotBlockWhenSaturated(t *testing.T) {
	processor := newBlockingProcessor()
	executor := NewInlineExecutor(processor, 1)

	first := uuid.New()
	second := uuid.New()

	executor.Execute(context.Background(), first)

	returned := make(chan struct{})
	go func() {
		executor.Execute(context.Background(), second)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute blocked while all slots were busy")
	}

	close(processor.release)
	executor.Wait()

	processed := processor.processedIDs()
	require.Len(t, processed, 2, "the deferred job still runs")
	assert.ElementsMatch(t, []uuid.UUID{first, second}, processed)
}

func TestInlineExecutor_WaitCoversDeferredJobs(t *testing.T) {
	processor := newBlockingProcessor()
	executor := NewInlineExecutor(processor, 1)

	jobs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, jobID := range jobs {
		executor.Execute(context.Background(), jobID)
	}

	close(processor.release)
	executor.Wait()

	assert.Len(t, processor.processedIDs(), len(jobs))
}

func TestNewInlineExecutor_RequiresProcessor(t *testing.T) {
	assert.Panics(t, func() { NewInlineExecutor(nil, 1) })
}
