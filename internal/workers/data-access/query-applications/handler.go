// Package queryapplications answers officer queries. Listing reads the
// application store, search and summary read the reporting index.
package queryapplications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"parking-sticker/internal/allocator"
	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/common/validation"
	"parking-sticker/internal/models"
	"parking-sticker/internal/reporting"
	"parking-sticker/internal/store"
	"parking-sticker/pkg/registry"
)

const (
	TaskType = "query-applications"
)

type Lister interface {
	List(ctx context.Context, f store.Filter) ([]*models.Application, error)
}

type Searcher interface {
	Search(ctx context.Context, q reporting.Query) (*reporting.SearchResult, error)
	Summary(ctx context.Context, year int) (*reporting.Summary, error)
}

type UsageReader interface {
	Usage(ctx context.Context, year int) (*models.SessionUsage, error)
}

type Handler struct {
	config       *Config
	lister       Lister
	searcher     Searcher
	usage        UsageReader
	schema       json.RawMessage
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandler builds the handler. searcher may be nil when reporting is
// disabled; search and summary queries then fail.
func NewHandler(config *Config, lister Lister, searcher Searcher, usage UsageReader, log logger.Logger) (*Handler, error) {
	schema, err := registry.Default().InputSchema(TaskType)
	if err != nil {
		return nil, fmt.Errorf("load input schema: %w", err)
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		lister:       lister,
		searcher:     searcher,
		usage:        usage,
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

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, apperrors.NewValidationError("input cannot be nil")
	}

	switch input.QueryType {
	case QueryTypeList:
		return h.list(ctx, input)
	case QueryTypeSearch:
		return h.search(ctx, input)
	case QueryTypeSummary:
		return h.summary(ctx, input)
	case QueryTypeUsage:
		usage, err := h.usage.Usage(ctx, input.Year)
		if err != nil {
			return nil, err
		}
		return &Output{QueryType: QueryTypeUsage, Usage: usage}, nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("queryType: unknown value %q", input.QueryType))
	}
}

func (h *Handler) list(ctx context.Context, input *Input) (*Output, error) {
	limit := input.Size
	if limit <= 0 || limit > h.config.MaxListLimit {
		limit = h.config.MaxListLimit
	}

	filter := store.Filter{
		Status: models.Status(input.Status),
		Type:   models.ApplicationType(input.ApplicationType),
		Year:   input.Year,
		Limit:  limit,
		Offset: input.From,
	}
	if input.ReferenceNumber != "" {
		ref := strings.ToUpper(strings.TrimSpace(input.ReferenceNumber))
		if _, err := allocator.ParseReference(ref); err != nil {
			return nil, apperrors.NewValidationError("referenceNumber: " + err.Error())
		}
		filter.ReferenceNumber = ref
	}
	if input.SerialNumber != "" {
		serial := strings.ToUpper(strings.TrimSpace(input.SerialNumber))
		if _, _, err := allocator.ParseSerial(serial); err != nil {
			return nil, apperrors.NewValidationError("serialNumber: " + err.Error())
		}
		filter.SerialNumber = serial
	}

	start := time.Now()
	apps, err := h.lister.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Output{
		QueryType:    QueryTypeList,
		Applications: apps,
		Total:        int64(len(apps)),
		Took:         time.Since(start).Milliseconds(),
	}, nil
}

func (h *Handler) search(ctx context.Context, input *Input) (*Output, error) {
	if h.searcher == nil {
		return nil, apperrors.NewValidationError("queryType: search requires the reporting index")
	}
	res, err := h.searcher.Search(ctx, reporting.Query{
		Status:          input.Status,
		ApplicationType: input.ApplicationType,
		Year:            input.Year,
		Text:            input.Text,
		From:            input.From,
		Size:            input.Size,
	})
	if err != nil {
		return nil, h.searchError(input.QueryType, err)
	}
	return &Output{
		QueryType: QueryTypeSearch,
		Documents: res.Documents,
		Total:     res.Total,
		Took:      int64(res.Took),
	}, nil
}

func (h *Handler) summary(ctx context.Context, input *Input) (*Output, error) {
	if h.searcher == nil {
		return nil, apperrors.NewValidationError("queryType: summary requires the reporting index")
	}
	if input.Year == 0 {
		return nil, apperrors.NewValidationError("year: required for summary")
	}
	sum, err := h.searcher.Summary(ctx, input.Year)
	if err != nil {
		return nil, h.searchError(input.QueryType, err)
	}
	return &Output{QueryType: QueryTypeSummary, Summary: sum, Total: sum.Total}, nil
}

func (h *Handler) searchError(queryType string, err error) error {
	if errors.Is(err, reporting.ErrIndexNotFound) {
		h.logger.Warn("reporting index missing", map[string]interface{}{"queryType": queryType})
	}
	return apperrors.NewSearchQueryFailedError(queryType, err)
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
