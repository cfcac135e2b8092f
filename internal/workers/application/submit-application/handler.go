package submitapplication

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/common/validation"
	"parking-sticker/internal/lifecycle"
	"parking-sticker/internal/models"
	"parking-sticker/pkg/registry"
)

const (
	TaskType = "submit-application"
)

// Submitter is the part of the lifecycle service this worker drives.
type Submitter interface {
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (*models.Application, error)
}

type Handler struct {
	config       *Config
	service      Submitter
	cache        *redis.Client
	schema       json.RawMessage
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, service Submitter, cache *redis.Client, log logger.Logger) (*Handler, error) {
	schema, err := registry.Default().InputSchema(TaskType)
	if err != nil {
		return nil, fmt.Errorf("load input schema: %w", err)
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		service:      service,
		cache:        cache,
		schema:       schema,
		errorHandler: apperrors.NewErrorHandler(l),
		logger:       l,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := validation.ValidateJobVariables(job.Variables, h.schema); err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidJobVariablesError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, job.Key, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, jobKey int64, input *Input) (*Output, error) {
	if cached, ok := h.replay(ctx, jobKey); ok {
		h.logger.Info("replaying submission for redelivered job", map[string]interface{}{
			"jobKey":          jobKey,
			"referenceNumber": cached.ReferenceNumber,
		})
		return cached, nil
	}

	app, err := h.service.Submit(ctx, *input)
	if err != nil {
		return nil, err
	}

	output := &Output{
		ApplicationID:   app.ID,
		ReferenceNumber: app.ReferenceNumber,
		ApplicationType: string(app.Type),
		Status:          string(app.Status),
		SubmittedAt:     app.SubmittedAt.UTC().Format(time.RFC3339),
	}
	h.remember(ctx, jobKey, output)
	return output, nil
}

func idempotencyKey(jobKey int64) string {
	return fmt.Sprintf("sticker:job:%s:%d", TaskType, jobKey)
}

func (h *Handler) replay(ctx context.Context, jobKey int64) (*Output, bool) {
	if h.cache == nil {
		return nil, false
	}
	raw, err := h.cache.Get(ctx, idempotencyKey(jobKey)).Bytes()
	if err != nil {
		if err != redis.Nil {
			h.logger.Warn("idempotency lookup failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	out.Replayed = true
	return &out, true
}

func (h *Handler) remember(ctx context.Context, jobKey int64, output *Output) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(output)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, idempotencyKey(jobKey), data, h.config.IdempotencyTTL).Err(); err != nil {
		h.logger.Warn("idempotency store failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, jobKey int64, input *Input) (*Output, error) {
	return h.execute(ctx, jobKey, input)
}
