package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/garmentflow/garmentflow/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit entries written off the request path.
	QueueAudit = "audit"
	// TaskAuditRecord persists one audit entry.
	TaskAuditRecord = "audit:record"
)

// NewAuditRecordTask wraps an audit entry in a task.
func NewAuditRecordTask(entry shared.AuditLog) (*asynq.Task, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, body, asynq.Queue(QueueAudit), asynq.MaxRetry(10)), nil
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditEnqueuer is an AuditSink that defers the insert to the worker.
type AuditEnqueuer struct {
	client TaskEnqueuer
}

// NewAuditEnqueuer constructs an AuditEnqueuer.
func NewAuditEnqueuer(client TaskEnqueuer) *AuditEnqueuer {
	return &AuditEnqueuer{client: client}
}

// Record enqueues the entry.
func (e *AuditEnqueuer) Record(ctx context.Context, entry shared.AuditLog) error {
	if e == nil || e.client == nil {
		return errors.New("audit enqueuer not configured")
	}
	task, err := NewAuditRecordTask(entry)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskAuditRecord, err)
	}
	return nil
}

// AuditRecordJob drains the audit queue into a synchronous sink.
type AuditRecordJob struct {
	Sink   shared.AuditSink
	Logger *slog.Logger
}

// Handle processes TaskAuditRecord tasks.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sink == nil {
		return errors.New("audit record: sink not configured")
	}
	var entry shared.AuditLog
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return fmt.Errorf("decode audit entry: %v: %w", err, asynq.SkipRetry)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := j.Sink.Record(ctx, entry); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
		}
		return err
	}
	return nil
}
