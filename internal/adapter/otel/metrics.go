package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskfabric"

// Metrics holds all taskfabric metric instruments.
type Metrics struct {
	TasksSubmitted     metric.Int64Counter
	TasksCompleted     metric.Int64Counter
	TasksFailed        metric.Int64Counter
	Escalations        metric.Int64Counter
	ApprovalsRequested metric.Int64Counter
	ApprovalsResolved  metric.Int64Counter
	ReviewBatchSize    metric.Int64Histogram
	TaskDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("taskfabric.tasks.submitted",
		metric.WithDescription("Number of tasks submitted"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("taskfabric.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("taskfabric.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("taskfabric.tasks.escalations",
		metric.WithDescription("Number of retry escalations"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsRequested, err = meter.Int64Counter("taskfabric.approvals.requested",
		metric.WithDescription("Number of human approval requests"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsResolved, err = meter.Int64Counter("taskfabric.approvals.resolved",
		metric.WithDescription("Number of resolved approval requests"))
	if err != nil {
		return nil, err
	}

	m.ReviewBatchSize, err = meter.Int64Histogram("taskfabric.review.batch_size",
		metric.WithDescription("Size of processed review batches"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("taskfabric.task.duration_seconds",
		metric.WithDescription("Task duration from submission to terminal status"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
