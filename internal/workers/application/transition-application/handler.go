// Package transitionapplication serves the review and collection steps of the
// sticker process. One Handler is registered per task type.
package transitionapplication

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
	TaskTypeApprove            = "approve-application"
	TaskTypeMarkIncomplete     = "mark-application-incomplete"
	TaskTypeReadyForCollection = "mark-ready-for-collection"
	TaskTypeCollected          = "mark-collected"
)

// TaskTypes lists every task type this package can serve.
var TaskTypes = []string{
	TaskTypeApprove,
	TaskTypeMarkIncomplete,
	TaskTypeReadyForCollection,
	TaskTypeCollected,
}

// Lifecycle is the part of the lifecycle service these workers drive.
type Lifecycle interface {
	Approve(ctx context.Context, applicationID string) (*models.Application, error)
	MarkIncomplete(ctx context.Context, applicationID, notes string) (*models.Application, error)
	MarkReadyForCollection(ctx context.Context, applicationID string) (*models.Application, error)
	MarkCollected(ctx context.Context, applicationID string) (*models.Application, error)
}

type action func(ctx context.Context, svc Lifecycle, input *Input) (*models.Application, error)

var actions = map[string]action{
	TaskTypeApprove: func(ctx context.Context, svc Lifecycle, input *Input) (*models.Application, error) {
		return svc.Approve(ctx, input.ApplicationID)
	},
	TaskTypeMarkIncomplete: func(ctx context.Context, svc Lifecycle, input *Input) (*models.Application, error) {
		return svc.MarkIncomplete(ctx, input.ApplicationID, input.AdminNotes)
	},
	TaskTypeReadyForCollection: func(ctx context.Context, svc Lifecycle, input *Input) (*models.Application, error) {
		return svc.MarkReadyForCollection(ctx, input.ApplicationID)
	},
	TaskTypeCollected: func(ctx context.Context, svc Lifecycle, input *Input) (*models.Application, error) {
		return svc.MarkCollected(ctx, input.ApplicationID)
	},
}

// notifyOn maps the status reached to the event the applicant is told about.
var notifyOn = map[models.Status]models.NotificationEvent{
	models.StatusApproved:           models.EventApproved,
	models.StatusIncomplete:         models.EventIncomplete,
	models.StatusReadyForCollection: models.EventReadyForCollection,
}

type Handler struct {
	config       *Config
	taskType     string
	run          action
	service      Lifecycle
	schema       json.RawMessage
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, taskType string, service Lifecycle, log logger.Logger) (*Handler, error) {
	run, ok := actions[taskType]
	if !ok {
		return nil, fmt.Errorf("unsupported task type %q", taskType)
	}
	schema, err := registry.Default().InputSchema(taskType)
	if err != nil {
		return nil, fmt.Errorf("load input schema: %w", err)
	}
	l := log.WithFields(map[string]interface{}{"taskType": taskType})
	return &Handler{
		config:       config,
		taskType:     taskType,
		run:          run,
		service:      service,
		schema:       schema,
		errorHandler: apperrors.NewErrorHandler(l),
		logger:       l,
	}, nil
}

// TaskType returns the Zeebe job type this handler is registered for.
func (h *Handler) TaskType() string {
	return h.taskType
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(h.taskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(h.taskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(h.taskType).Observe(time.Since(start).Seconds())
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

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	app, err := h.run(ctx, h.service, input)
	if err != nil {
		return nil, err
	}

	output := &Output{
		ApplicationID:     app.ID,
		ReferenceNumber:   app.ReferenceNumber,
		Status:            string(app.Status),
		SerialNumber:      app.SerialNumber,
		AdminNotes:        app.AdminNotes,
		NotificationEvent: string(notifyOn[app.Status]),
		Terminal:          app.Status.IsTerminal(),
		UpdatedAt:         app.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if app.ExpiryAt != nil {
		output.ExpiryDate = app.ExpiryAt.Format(models.DateLayout)
	}
	return output, nil
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
	metrics.WorkerJobsCompleted.WithLabelValues(h.taskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(h.taskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
