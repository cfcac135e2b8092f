// Package store persists sticker applications and session configurations.
//
// Every mutation of the allocator or the lifecycle runs through Store.RunInTx.
// Serialization of identifier allocation relies on the transaction, never on
// process-local locks held by callers.
package store

import (
	"context"
	"errors"

	"parking-sticker/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejected a write.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrSerialization is returned when the backend aborted the transaction
	// because of a concurrent writer; the whole transaction may be retried.
	ErrSerialization = errors.New("store: serialization failure")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// IsRetryable reports whether err may succeed when the transaction is rerun.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrSerialization)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status models.Status
	Type   models.ApplicationType
	Year   int // submission year of the reference number

	ReferenceNumber string
	SerialNumber    string

	Limit  int
	Offset int
}

// Repository is the data access surface usable inside and outside a transaction.
type Repository interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	// LockApplication reads the record and holds it until the transaction ends.
	LockApplication(ctx context.Context, id string) (*models.Application, error)
	FindLatestByIC(ctx context.Context, icNumber string) (*models.Application, error)
	// FindByGuardedFields returns every record whose normalized disability-card,
	// tax-account or vehicle-registration number equals a non-empty argument.
	FindByGuardedFields(ctx context.Context, disabilityCard, taxAccount, vehicle string) ([]*models.Application, error)
	List(ctx context.Context, f Filter) ([]*models.Application, error)

	MaxReferenceSequence(ctx context.Context, prefix string, year int) (int, error)
	MaxSerialSequence(ctx context.Context, year int) (int, error)
	CountIssuedSerials(ctx context.Context, year int) (int, error)

	Insert(ctx context.Context, app *models.Application, ref ReferenceParts) error
	Update(ctx context.Context, app *models.Application, serial *SerialParts) error

	FindSession(ctx context.Context, year int) (*models.SessionConfig, error)
	// LockSession reads the session row and serializes serial issuance for the year.
	LockSession(ctx context.Context, year int) (*models.SessionConfig, error)
	SaveSession(ctx context.Context, cfg *models.SessionConfig) error

	// LockKeys takes transaction-scoped exclusive locks on the named keys.
	// Outside a transaction it is a no-op.
	LockKeys(ctx context.Context, keys ...string) error
}

// ReferenceParts are the decomposed columns of a reference number.
type ReferenceParts struct {
	Prefix string
	Year   int
	Seq    int
}

// SerialParts are the decomposed columns of a serial number.
type SerialParts struct {
	Year int
	Seq  int
}

// TxFunc runs inside a transaction against a transaction-bound repository.
type TxFunc func(ctx context.Context, repo Repository) error

// Store is a Repository that can open transactions.
type Store interface {
	Repository
	RunInTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
}
