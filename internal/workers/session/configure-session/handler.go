package configuresession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/common/validation"
	"parking-sticker/internal/models"
	"parking-sticker/pkg/registry"
)

const (
	TaskType = "configure-session"
)

// Sessions is the session configuration service.
type Sessions interface {
	Configure(ctx context.Context, year int, prefix string, capacity int) (*models.SessionConfig, error)
	UpdatePrefix(ctx context.Context, year int, prefix string) (*models.SessionConfig, error)
	UpdateCapacity(ctx context.Context, year, capacity int) (*models.SessionConfig, error)
	Usage(ctx context.Context, year int) (*models.SessionUsage, error)
}

type Handler struct {
	config       *Config
	sessions     Sessions
	schema       json.RawMessage
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, sessions Sessions, log logger.Logger) (*Handler, error) {
	schema, err := registry.Default().InputSchema(TaskType)
	if err != nil {
		return nil, fmt.Errorf("load input schema: %w", err)
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		sessions:     sessions,
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
	defer func() {
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

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	var (
		action string
		err    error
	)
	switch {
	case input.Prefix != nil && input.Capacity != nil:
		action = ActionConfigured
		_, err = h.sessions.Configure(ctx, input.Year, *input.Prefix, *input.Capacity)
	case input.Prefix != nil:
		action = ActionPrefixUpdated
		_, err = h.sessions.UpdatePrefix(ctx, input.Year, *input.Prefix)
	case input.Capacity != nil:
		action = ActionCapacityUpdated
		_, err = h.sessions.UpdateCapacity(ctx, input.Year, *input.Capacity)
	default:
		action = ActionRead
	}
	if err != nil {
		return nil, err
	}

	usage, err := h.sessions.Usage(ctx, input.Year)
	if err != nil {
		return nil, err
	}

	if action != ActionRead {
		h.logger.Info("session updated", map[string]interface{}{
			"year":     usage.Year,
			"prefix":   usage.Prefix,
			"capacity": usage.Capacity,
			"action":   action,
		})
	}

	return &Output{
		Year:      usage.Year,
		Prefix:    usage.Prefix,
		Capacity:  usage.Capacity,
		Issued:    usage.Issued,
		Remaining: usage.Remaining,
		Action:    action,
	}, nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
