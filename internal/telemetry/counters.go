package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TaskMetrics counts loyalty task outcomes. Terminal failures must stay
// visible to operators, so they get a counter rather than just a log line.
type TaskMetrics struct {
	succeeded metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
}

func NewTaskMetrics() (*TaskMetrics, error) {
	meter := otel.Meter("loyalty/tasks")

	succeeded, err := meter.Int64Counter("loyalty_tasks_succeeded_total",
		metric.WithDescription("Tasks that completed successfully"))
	if err != nil {
		return nil, err
	}
	retried, err := meter.Int64Counter("loyalty_tasks_retried_total",
		metric.WithDescription("Task attempts that failed and were retried"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("loyalty_tasks_failed_total",
		metric.WithDescription("Tasks that failed terminally"))
	if err != nil {
		return nil, err
	}

	return &TaskMetrics{succeeded: succeeded, retried: retried, failed: failed}, nil
}

func (m *TaskMetrics) RecordSuccess(ctx context.Context, task string) {
	m.succeeded.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

func (m *TaskMetrics) RecordRetry(ctx context.Context, task string) {
	m.retried.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

func (m *TaskMetrics) RecordFailure(ctx context.Context, task string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}
