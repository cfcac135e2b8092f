package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"parking-sticker/internal/common/config"
	"parking-sticker/internal/common/logger"
)

// JobHandler is implemented by every job worker handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// JobObserver records job throughput, typically the OpenTelemetry meters.
type JobObserver interface {
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, duration time.Duration, status string)
}

type Option func(*options)

type options struct {
	observer JobObserver
}

func WithObserver(o JobObserver) Option {
	return func(opts *options) { opts.observer = o }
}

// Worker is one opened Zeebe job worker.
type Worker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

// NewWorker opens a job worker for taskType. It returns nil when the worker
// is disabled in configuration.
func NewWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler JobHandler, log logger.Logger, opts ...Option) *Worker {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	l := log.WithFields(map[string]interface{}{"taskType": taskType})
	if !wcfg.Enabled {
		l.Info("worker disabled", nil)
		return nil
	}

	maxJobs := wcfg.MaxJobsActive
	if maxJobs <= 0 {
		maxJobs = 5
	}
	cmd := client.NewJobWorker().
		JobType(taskType).
		Handler(observe(taskType, handler, o.observer)).
		MaxJobsActive(maxJobs)
	if wcfg.Timeout > 0 {
		cmd = cmd.Timeout(time.Duration(wcfg.Timeout) * time.Millisecond)
	}

	w := &Worker{
		worker:   cmd.Open(),
		logger:   l,
		taskType: taskType,
	}
	l.Info("worker started", map[string]interface{}{
		"maxJobsActive": maxJobs,
		"timeout_ms":    wcfg.Timeout,
	})
	return w
}

func (w *Worker) TaskType() string {
	return w.taskType
}

// Stop closes the worker and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}

func observe(taskType string, handler JobHandler, observer JobObserver) worker.JobHandler {
	if observer == nil {
		return handler.Handle
	}
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		handler.Handle(client, job)
		ctx := context.Background()
		observer.RecordJobProcessed(ctx, taskType, "handled")
		observer.RecordJobDuration(ctx, taskType, time.Since(start), "handled")
	}
}
