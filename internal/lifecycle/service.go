// Package lifecycle drives a sticker application from submission to
// collection. Every operation is one store transaction run through the
// allocator, so a failed operation never leaves a partial transition.
package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parking-sticker/internal/allocator"
	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/common/validation"
	"parking-sticker/internal/guard"
	"parking-sticker/internal/models"
	"parking-sticker/internal/store"
)

// Indexer receives every committed application. Failures are logged only.
type Indexer interface {
	Index(ctx context.Context, app *models.Application) error
}

// SubmitRequest is what intake hands to the core.
type SubmitRequest struct {
	Type      models.ApplicationType `json:"applicationType"`
	Applicant models.Applicant       `json:"applicant"`
	Dependent *models.Dependent      `json:"dependent,omitempty"`
	Documents models.Documents       `json:"documents"`
	Location  *models.Location       `json:"location,omitempty"`
}

type Service struct {
	store     store.Store
	allocator *allocator.Allocator
	guard     *guard.Guard
	validate  *validator.Validate
	indexer   Indexer
	loc       *time.Location
	now       func() time.Time
	newID     func() string
	tracer    trace.Tracer
	logger    logger.Logger
}

type Option func(*Service)

// WithLocation sets the timezone that decides the calendar year.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIndexer(idx Indexer) Option {
	return func(s *Service) { s.indexer = idx }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(st store.Store, alloc *allocator.Allocator, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Service{
		store:     st,
		allocator: alloc,
		guard:     guard.New(st, log),
		validate:  validation.NewStructValidator(),
		loc:       time.UTC,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
		tracer:    otel.Tracer("parking-sticker/lifecycle"),
		logger:    log.WithFields(map[string]interface{}{"component": "lifecycle"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) year(t time.Time) int {
	return t.In(s.loc).Year()
}

// Submit validates and normalizes the request, applies the uniqueness guard,
// allocates a reference number and persists the record as submitted.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Application, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Submit", trace.WithAttributes(
		attribute.String("application.type", string(req.Type)),
	))
	defer span.End()

	applicant, dependent, err := s.prepare(req)
	if err != nil {
		return nil, s.fail(span, "submit", err)
	}

	now := s.now()
	year := s.year(now)

	var created *models.Application
	err = s.allocator.Run(ctx, "submit", func(ctx context.Context, repo store.Repository) error {
		created = nil
		docs := req.Documents
		dep := dependent

		if req.Type == models.TypeRenewal {
			prior, err := repo.FindLatestByIC(ctx, applicant.ICNumber)
			if err != nil {
				if stderrors.Is(err, store.ErrNotFound) {
					return apperrors.NewValidationError(fmt.Sprintf("renewal: no prior application for IC %s", applicant.ICNumber))
				}
				return err
			}
			docs = docs.InheritFrom(prior.Documents)
			if dep == nil && prior.Dependent != nil {
				d := *prior.Dependent
				dep = &d
			}
		}

		if missing := docs.Missing(dep != nil); len(missing) > 0 {
			return apperrors.NewValidationError("documents: missing " + strings.Join(missing, ", "))
		}

		keys := append(guard.LockKeys(applicant), allocator.ReferenceLockKey(req.Type, year))
		if err := repo.LockKeys(ctx, keys...); err != nil {
			return err
		}
		if err := s.guard.CheckWith(ctx, repo, applicant, ""); err != nil {
			return err
		}

		ref, parts, err := allocator.NextReferenceNumber(ctx, repo, req.Type, year)
		if err != nil {
			return err
		}

		app := &models.Application{
			ID:              s.newID(),
			ReferenceNumber: ref,
			Type:            req.Type,
			Status:          models.StatusSubmitted,
			Applicant:       applicant,
			Dependent:       dep,
			Documents:       docs,
			Location:        req.Location,
			SubmittedAt:     now,
			UpdatedAt:       now,
		}
		if err := repo.Insert(ctx, app, parts); err != nil {
			return err
		}
		created = app
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "submit", err)
	}

	metrics.ApplicationsSubmitted.WithLabelValues(string(created.Type)).Inc()
	span.SetAttributes(attribute.String("application.reference", created.ReferenceNumber))
	s.logger.Info("Application submitted", map[string]interface{}{
		"applicationId":   created.ID,
		"referenceNumber": created.ReferenceNumber,
		"applicationType": string(created.Type),
	})
	s.index(ctx, created)
	return created, nil
}

func (s *Service) prepare(req SubmitRequest) (models.Applicant, *models.Dependent, error) {
	if !req.Type.Valid() {
		return models.Applicant{}, nil, apperrors.NewValidationError("applicationType: must be new or renewal")
	}
	if err := s.validate.Struct(req.Applicant); err != nil {
		return models.Applicant{}, nil, apperrors.NewValidationError(validation.FormatStructErrors(err))
	}

	applicant := req.Applicant
	if err := applicant.Normalize(); err != nil {
		return models.Applicant{}, nil, apperrors.NewValidationError("icNumber: " + err.Error())
	}
	// Normalization strips spaces and dashes, so a value made only of
	// separators ends up empty and would escape the uniqueness guard.
	for _, f := range []struct{ name, value string }{
		{"name", applicant.Name},
		{"disabilityCardNumber", applicant.DisabilityCardNumber},
		{"vehicleRegistration", applicant.VehicleRegistration},
	} {
		if f.value == "" {
			return models.Applicant{}, nil, apperrors.NewValidationError(f.name + ": required")
		}
	}

	var dependent *models.Dependent
	if req.Dependent != nil {
		if err := s.validate.Struct(req.Dependent); err != nil {
			return models.Applicant{}, nil, apperrors.NewValidationError("dependent." + validation.FormatStructErrors(err))
		}
		d := *req.Dependent
		ic, err := models.NormalizeIC(d.ICNumber)
		if err != nil {
			return models.Applicant{}, nil, apperrors.NewValidationError("dependent.icNumber: " + err.Error())
		}
		d.ICNumber = ic
		d.Name = strings.TrimSpace(d.Name)
		dependent = &d
	}
	return applicant, dependent, nil
}

// Approve issues the next serial of the current session year and moves the
// application to approved. A full session returns CAPACITY_EXCEEDED and
// leaves the record untouched.
func (s *Service) Approve(ctx context.Context, applicationID string) (*models.Application, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Approve", trace.WithAttributes(
		attribute.String("application.id", applicationID),
	))
	defer span.End()

	now := s.now()
	year := s.year(now)

	var approved *models.Application
	err := s.allocator.Run(ctx, "approve", func(ctx context.Context, repo store.Repository) error {
		approved = nil
		issued, err := allocator.IssueSerial(ctx, repo, applicationID, year)
		if err != nil {
			return err
		}
		app := issued.Application
		if err := app.Approve(issued.Serial, now, s.loc); err != nil {
			return err
		}
		if err := repo.Update(ctx, app, &issued.Parts); err != nil {
			return err
		}
		approved = app
		return nil
	})
	if err != nil {
		return nil, s.fail(span, string(models.StatusApproved), err)
	}

	metrics.SerialsIssued.WithLabelValues(strconv.Itoa(year)).Inc()
	s.succeeded(ctx, approved, map[string]interface{}{"serialNumber": approved.SerialNumber})
	return approved, nil
}

// MarkIncomplete records the admin notes and closes the application.
func (s *Service) MarkIncomplete(ctx context.Context, applicationID, notes string) (*models.Application, error) {
	return s.transition(ctx, applicationID, models.StatusIncomplete, func(app *models.Application, now time.Time) error {
		return app.MarkIncomplete(notes, now)
	})
}

func (s *Service) MarkReadyForCollection(ctx context.Context, applicationID string) (*models.Application, error) {
	return s.transition(ctx, applicationID, models.StatusReadyForCollection, func(app *models.Application, now time.Time) error {
		return app.MarkReadyForCollection(now)
	})
}

func (s *Service) MarkCollected(ctx context.Context, applicationID string) (*models.Application, error) {
	return s.transition(ctx, applicationID, models.StatusCollected, func(app *models.Application, now time.Time) error {
		return app.MarkCollected(now)
	})
}

func (s *Service) transition(ctx context.Context, applicationID string, to models.Status, apply func(*models.Application, time.Time) error) (*models.Application, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Transition", trace.WithAttributes(
		attribute.String("application.id", applicationID),
		attribute.String("application.to", string(to)),
	))
	defer span.End()

	now := s.now()

	var updated *models.Application
	err := s.allocator.Run(ctx, string(to), func(ctx context.Context, repo store.Repository) error {
		updated = nil
		app, err := repo.LockApplication(ctx, applicationID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return apperrors.NewApplicationNotFoundError(applicationID)
			}
			return err
		}
		if err := apply(app, now); err != nil {
			return err
		}
		if err := repo.Update(ctx, app, nil); err != nil {
			return err
		}
		updated = app
		return nil
	})
	if err != nil {
		return nil, s.fail(span, string(to), err)
	}

	s.succeeded(ctx, updated, nil)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, applicationID string) (*models.Application, error) {
	app, err := s.store.FindByID(ctx, applicationID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewApplicationNotFoundError(applicationID)
		}
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	return app, nil
}

// List returns applications ordered by submission time.
func (s *Service) List(ctx context.Context, f store.Filter) ([]*models.Application, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("status: unknown value %q", f.Status))
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("applicationType: unknown value %q", f.Type))
	}
	apps, err := s.store.List(ctx, f)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	return apps, nil
}

func (s *Service) succeeded(ctx context.Context, app *models.Application, extra map[string]interface{}) {
	metrics.Transitions.WithLabelValues(string(app.Status), "ok").Inc()
	fields := map[string]interface{}{
		"applicationId":   app.ID,
		"referenceNumber": app.ReferenceNumber,
		"status":          string(app.Status),
	}
	for k, v := range extra {
		fields[k] = v
	}
	s.logger.Info("Application status changed", fields)
	s.index(ctx, app)
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	code := "UNKNOWN"
	if stdErr, ok := apperrors.AsStandard(err); ok {
		code = string(stdErr.Code)
	}
	if op != "submit" {
		metrics.Transitions.WithLabelValues(op, code).Inc()
	}

	fields := map[string]interface{}{"operation": op, "errorCode": code, "error": err.Error()}
	if apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition) {
		s.logger.Warn("Illegal status transition requested", fields)
	} else {
		s.logger.Debug("Lifecycle operation rejected", fields)
	}
	return err
}

func (s *Service) index(ctx context.Context, app *models.Application) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Index(ctx, app); err != nil {
		s.logger.Warn("Reporting index update failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err.Error(),
		})
	}
}
