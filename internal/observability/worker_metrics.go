package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "quizgen/worker"

// WorkerMetrics holds the counters the batch loop records into. A nil
// receiver is valid and records nothing, so call sites never need guards.
type WorkerMetrics struct {
	jobsStarted    metric.Int64Counter
	jobsCompleted  metric.Int64Counter
	jobsFailed     metric.Int64Counter
	itemsGenerated metric.Int64Counter
	itemsPassed    metric.Int64Counter
	itemsFailed    metric.Int64Counter
	tokensUsed     metric.Int64Counter
	costTotal      metric.Float64Counter
}

// NewWorkerMetrics registers the worker counters on the global meter
// provider.
func NewWorkerMetrics() (*WorkerMetrics, error) {
	meter := otel.Meter(meterName)

	m := &WorkerMetrics{}
	var err error

	if m.jobsStarted, err = meter.Int64Counter("generation_jobs_started_total"); err != nil {
		return nil, fmt.Errorf("failed to create jobs started counter: %w", err)
	}
	if m.jobsCompleted, err = meter.Int64Counter("generation_jobs_completed_total"); err != nil {
		return nil, fmt.Errorf("failed to create jobs completed counter: %w", err)
	}
	if m.jobsFailed, err = meter.Int64Counter("generation_jobs_failed_total"); err != nil {
		return nil, fmt.Errorf("failed to create jobs failed counter: %w", err)
	}
	if m.itemsGenerated, err = meter.Int64Counter("generation_items_generated_total"); err != nil {
		return nil, fmt.Errorf("failed to create items generated counter: %w", err)
	}
	if m.itemsPassed, err = meter.Int64Counter("generation_items_passed_total"); err != nil {
		return nil, fmt.Errorf("failed to create items passed counter: %w", err)
	}
	if m.itemsFailed, err = meter.Int64Counter("generation_items_failed_total"); err != nil {
		return nil, fmt.Errorf("failed to create items failed counter: %w", err)
	}
	if m.tokensUsed, err = meter.Int64Counter("generation_tokens_used_total"); err != nil {
		return nil, fmt.Errorf("failed to create tokens counter: %w", err)
	}
	if m.costTotal, err = meter.Float64Counter("generation_cost_usd_total"); err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}
	return m, nil
}

// RecordJobStarted counts one job entering the batch loop.
func (m *WorkerMetrics) RecordJobStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobsStarted.Add(ctx, 1)
}

// RecordJobCompleted counts one job reaching completed.
func (m *WorkerMetrics) RecordJobCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobsCompleted.Add(ctx, 1)
}

// RecordJobFailed counts one job reaching failed.
func (m *WorkerMetrics) RecordJobFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobsFailed.Add(ctx, 1)
}

// RecordBatch counts one batch's item outcomes, token usage and cost per
// model.
func (m *WorkerMetrics) RecordBatch(ctx context.Context, model string, generated, passed, failed, tokens int, cost float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.itemsGenerated.Add(ctx, int64(generated), attrs)
	m.itemsPassed.Add(ctx, int64(passed), attrs)
	m.itemsFailed.Add(ctx, int64(failed), attrs)
	m.tokensUsed.Add(ctx, int64(tokens), attrs)
	m.costTotal.Add(ctx, cost, attrs)
}
