package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/closeflow/internal/backend"
	jobmetrics "github.com/odyssey-erp/closeflow/internal/jobs"
	"github.com/odyssey-erp/closeflow/internal/statement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatementGenerate generates a statement in the background.
	TaskStatementGenerate = "statement:generate"
	// TaskBackendPing probes the reporting backend.
	TaskBackendPing = "backend:ping"

	generateUniqueTTL = 15 * time.Minute
)

// NewGenerateTask builds a statement:generate task. Only one task per
// entity and statement may be queued at a time.
func NewGenerateTask(job statement.Job) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementGenerate, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(generateUniqueTTL),
	), nil
}

// JobRunner executes dequeued generation jobs.
type JobRunner interface {
	RunJob(ctx context.Context, job statement.Job) (statement.Result, error)
}

// HandleGenerateTask returns the handler of statement:generate tasks.
func HandleGenerateTask(runner JobRunner, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskStatementGenerate)
		var job statement.Job
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
		}
		res, err := runner.RunJob(ctx, job)
		if err != nil {
			logger.Warn("statement job failed",
				slog.String("statement", job.Statement),
				slog.String("entity", job.Entity),
				slog.String("request_id", job.RequestID),
				slog.Any("error", err),
			)
			if permanent(err) {
				err = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return tracker.End(err)
		}
		logger.Info("statement generated",
			slog.String("statement", res.Statement),
			slog.String("entity", res.Entity),
			slog.String("request_id", job.RequestID),
		)
		return tracker.End(nil)
	}
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	if errors.Is(err, statement.ErrUnknownStatement) {
		return true
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError
	}
	return false
}

// NewBackendPingTask builds a backend:ping task.
func NewBackendPingTask() *asynq.Task {
	return asynq.NewTask(TaskBackendPing, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}

// Pinger checks backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleBackendPing returns the handler of backend:ping tasks.
func HandleBackendPing(pinger Pinger, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track(TaskBackendPing)
		err := pinger.Ping(ctx)
		metrics.SetBackendUp(err == nil)
		if err != nil {
			logger.Warn("backend ping failed", slog.Any("error", err))
			return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
		}
		return tracker.End(nil)
	}
}
