// Package events publishes job lifecycle and execution outcomes to a topic
// exchange for downstream consumers (dashboards, alerting). Publishing is
// best effort: a broker outage is logged and never fails a run.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/shared/rabbitmq"
)

// Routing keys, one per event type. Consumers bind with patterns like
// "jobs.execution.*".
const (
	routingExecutionFinished = "jobs.execution.finished"
	routingStatusChanged     = "jobs.status.changed"
)

// ExecutionFinishedEvent is the wire payload for a finalized run.
type ExecutionFinishedEvent struct {
	JobID            string    `json:"job_id"`
	ExecutionID      string    `json:"execution_id"`
	Symbol           string    `json:"symbol"`
	Provider         string    `json:"provider"`
	Status           string    `json:"status"`
	ErrorCategory    string    `json:"error_category,omitempty"`
	Error            string    `json:"error,omitempty"`
	RecordsCollected int64     `json:"records_collected"`
	RecordsLoaded    int64     `json:"records_loaded"`
	AttemptNumber    int       `json:"attempt_number"`
	FinishedAt       time.Time `json:"finished_at"`
}

// StatusChangedEvent is the wire payload for a job state transition.
type StatusChangedEvent struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

// AMQPPublisher publishes events through the shared RabbitMQ client.
type AMQPPublisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

func NewAMQPPublisher(client *rabbitmq.Client, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{client: client, logger: logger}
}

func (p *AMQPPublisher) ExecutionFinished(ctx context.Context, job *domain.Job, exec *domain.JobExecution, result domain.ExecutionResult) {
	event := ExecutionFinishedEvent{
		JobID:            job.ID,
		ExecutionID:      exec.ID,
		Symbol:           job.Symbol,
		Provider:         job.Provider,
		Status:           string(result.Status),
		ErrorCategory:    string(result.Category),
		RecordsCollected: result.RecordsCollected,
		RecordsLoaded:    result.RecordsLoaded,
		AttemptNumber:    exec.AttemptNumber,
		FinishedAt:       time.Now(),
	}
	if result.Err != nil {
		event.Error = result.Err.Error()
	}
	p.publish(ctx, routingExecutionFinished, event)
}

func (p *AMQPPublisher) JobStatusChanged(ctx context.Context, jobID string, status domain.JobStatus) {
	p.publish(ctx, routingStatusChanged, StatusChangedEvent{
		JobID:     jobID,
		Status:    string(status),
		ChangedAt: time.Now(),
	})
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event",
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
		return
	}
	if err := p.client.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		p.logger.Error("Failed to publish event",
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
	}
}

// NopPublisher drops all events. Used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) ExecutionFinished(context.Context, *domain.Job, *domain.JobExecution, domain.ExecutionResult) {
}

func (NopPublisher) JobStatusChanged(context.Context, string, domain.JobStatus) {}
