// Package allocator hands out reference numbers and serial numbers.
//
// NextReferenceNumber and IssueSerial must run inside a store transaction.
// Run wraps such a transaction with bounded retry on uniqueness and
// serialization conflicts.
package allocator

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"parking-sticker/internal/common/config"
	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/models"
	"parking-sticker/internal/store"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 25 * time.Millisecond
)

// NextReferenceNumber returns max(existing sequence for prefix/year) + 1.
// The caller holds ReferenceLockKey(t, year) and inserts in the same
// transaction; the unique constraint catches anything that slips through.
func NextReferenceNumber(ctx context.Context, repo store.Repository, t models.ApplicationType, year int) (string, store.ReferenceParts, error) {
	if !t.Valid() {
		return "", store.ReferenceParts{}, apperrors.NewValidationError("applicationType: must be new or renewal")
	}
	prefix := t.ReferencePrefix()
	highest, err := repo.MaxReferenceSequence(ctx, prefix, year)
	if err != nil {
		return "", store.ReferenceParts{}, err
	}
	parts := store.ReferenceParts{Prefix: prefix, Year: year, Seq: highest + 1}
	return FormatReference(prefix, year, parts.Seq), parts, nil
}

// Issued is a serial that has been computed but not yet persisted.
type Issued struct {
	Application *models.Application
	Serial      string
	Parts       store.SerialParts
	Session     models.SessionConfig
	IssuedCount int
}

// IssueSerial locks the application and the year's session row, checks the
// capacity and computes the next serial. The caller persists it in the same
// transaction, which makes check, sequence and write one atomic unit.
func IssueSerial(ctx context.Context, repo store.Repository, applicationID string, year int) (*Issued, error) {
	app, err := repo.LockApplication(ctx, applicationID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewApplicationNotFoundError(applicationID)
		}
		return nil, err
	}
	if !app.CanApprove() {
		return nil, apperrors.NewIllegalTransitionError(string(app.Status), string(models.StatusApproved))
	}

	session, err := repo.LockSession(ctx, year)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewSessionNotConfiguredError(year)
		}
		return nil, err
	}

	issued, err := repo.CountIssuedSerials(ctx, year)
	if err != nil {
		return nil, err
	}
	if issued >= session.Capacity {
		metrics.CapacityExceeded.WithLabelValues(strconv.Itoa(year)).Inc()
		return nil, apperrors.NewCapacityExceededError(year, session.Capacity, issued)
	}

	highest, err := repo.MaxSerialSequence(ctx, year)
	if err != nil {
		return nil, err
	}
	parts := store.SerialParts{Year: year, Seq: highest + 1}

	return &Issued{
		Application: app,
		Serial:      FormatSerial(session.Prefix, year, parts.Seq),
		Parts:       parts,
		Session:     *session,
		IssuedCount: issued,
	}, nil
}

// Allocator runs allocation transactions with bounded retry.
type Allocator struct {
	store       store.Store
	maxAttempts int
	backoff     time.Duration
	logger      logger.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(s store.Store, cfg config.AllocationConfig, log logger.Logger) *Allocator {
	a := &Allocator{
		store:       s,
		maxAttempts: cfg.MaxAttempts,
		backoff:     time.Duration(cfg.Backoff) * time.Millisecond,
		logger:      log,
		sleep:       sleepCtx,
	}
	if a.maxAttempts < 1 {
		a.maxAttempts = DefaultMaxAttempts
	}
	if a.backoff <= 0 {
		a.backoff = DefaultBackoff
	}
	if a.logger == nil {
		a.logger = logger.NewNoOpLogger()
	}
	return a
}

// Run executes fn in a fresh transaction, rerunning it while the store
// reports a uniqueness or serialization conflict.
//
// Errors are returned typed: StandardErrors raised by fn pass through,
// exhausted retries become ALLOCATION_RETRIES_EXHAUSTED and any other
// store failure becomes STORE_UNAVAILABLE.
func (a *Allocator) Run(ctx context.Context, op string, fn store.TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		err := a.store.RunInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if _, ok := apperrors.AsStandard(err); ok {
			return err
		}
		if !store.IsRetryable(err) {
			return apperrors.NewStoreUnavailableError(err)
		}

		lastErr = err
		if attempt == a.maxAttempts {
			break
		}

		metrics.AllocationRetries.WithLabelValues(op).Inc()
		wait := a.backoff << (attempt - 1)
		a.logger.Warn("Allocation conflict, retrying", map[string]interface{}{
			"operation": op,
			"attempt":   attempt,
			"backoff":   wait.String(),
			"error":     err.Error(),
		})
		if err := a.sleep(ctx, wait); err != nil {
			return apperrors.NewStoreUnavailableError(err)
		}
	}
	return apperrors.NewAllocationRetriesExhaustedError(op, a.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
