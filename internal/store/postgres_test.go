package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"parking-sticker/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func applicationRow(t *testing.T, app *models.Application) *sqlmock.Rows {
	applicant, err := json.Marshal(app.Applicant)
	require.NoError(t, err)
	documents, err := json.Marshal(app.Documents)
	require.NoError(t, err)

	var serial, notes, approved, expiry driver.Value
	if app.SerialNumber != "" {
		serial = app.SerialNumber
	}
	if app.AdminNotes != "" {
		notes = app.AdminNotes
	}
	if app.ApprovedAt != nil {
		approved = *app.ApprovedAt
	}
	if app.ExpiryAt != nil {
		expiry = *app.ExpiryAt
	}

	return sqlmock.NewRows([]string{
		"id", "reference_number", "application_type", "status", "applicant", "dependent",
		"documents", "location", "serial_number", "admin_notes", "submitted_at", "approved_at",
		"ready_at", "collected_at", "expiry_at", "updated_at",
	}).AddRow(
		app.ID, app.ReferenceNumber, string(app.Type), string(app.Status), applicant, nil,
		documents, nil, serial, notes, app.SubmittedAt, approved,
		nil, nil, expiry, app.UpdatedAt,
	)
}

func sampleApplication() *models.Application {
	submitted := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	return &models.Application{
		ID:              "app-1",
		ReferenceNumber: "RB20250001",
		Type:            models.TypeNew,
		Status:          models.StatusSubmitted,
		Applicant: models.Applicant{
			Name:                 "Siti Nurhaliza",
			ICNumber:             "850215-10-5432",
			DisabilityCardNumber: "OKU123456",
			Phone:                "0123456789",
			VehicleRegistration:  "WXY1234",
			DisabilityCategory:   "physical",
			Address:              "12 Jalan Mawar, Petaling Jaya",
		},
		Documents: models.Documents{
			IdentityCopy:       "docs/ic.pdf",
			DisabilityCardCopy: "docs/card.pdf",
			DrivingLicenceCopy: "docs/licence.pdf",
			PassportPhoto:      "docs/photo.jpg",
		},
		SubmittedAt: submitted,
		UpdatedAt:   submitted,
	}
}

func TestPostgresStore_FindByID(t *testing.T) {
	s, mock := newMockStore(t)
	app := sampleApplication()

	mock.ExpectQuery(`SELECT .+ FROM sticker_applications WHERE id = \$1`).
		WithArgs("app-1").
		WillReturnRows(applicationRow(t, app))

	got, err := s.FindByID(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, "RB20250001", got.ReferenceNumber)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Equal(t, "WXY1234", got.Applicant.VehicleRegistration)
	assert.Nil(t, got.Dependent)
	assert.Nil(t, got.ApprovedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM sticker_applications WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_ByReferenceAndSerial(t *testing.T) {
	s, mock := newMockStore(t)
	app := sampleApplication()

	mock.ExpectQuery(`SELECT .+ FROM sticker_applications WHERE status = \$1 AND reference_number = \$2 ORDER BY submitted_at, reference_number LIMIT \$3`).
		WithArgs("submitted", "RB20250001", 10).
		WillReturnRows(applicationRow(t, app))
	mock.ExpectQuery(`SELECT .+ FROM sticker_applications WHERE serial_number = \$1 ORDER BY`).
		WithArgs("MPHS/2025/0001").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := s.List(context.Background(), Filter{Status: models.StatusSubmitted, ReferenceNumber: "RB20250001", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "app-1", got[0].ID)

	got, err = s.List(context.Background(), Filter{SerialNumber: "MPHS/2025/0001"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert_UniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	app := sampleApplication()

	mock.ExpectExec(`INSERT INTO sticker_applications`).
		WithArgs(
			"app-1", "RB20250001", "RB", 2025, 1,
			"new", "submitted", "850215-10-5432", "OKU123456", "",
			"WXY1234", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), nil,
			app.SubmittedAt, app.UpdatedAt,
		).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "sticker_applications_reference_number_key"})

	err := s.Insert(context.Background(), app, ReferenceParts{Prefix: "RB", Year: 2025, Seq: 1})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "reference_number")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunInTx_CommitAndLockOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	lock := regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)
	mock.ExpectExec(lock).WithArgs("guard:card:OKU1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(lock).WithArgs("guard:vehicle:WXY1234").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(lock).WithArgs("ref:RB:2025").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(reference_seq\), 0\)`).
		WithArgs("RB", 2025).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(41))
	mock.ExpectCommit()

	var next int
	err := s.RunInTx(context.Background(), func(ctx context.Context, repo Repository) error {
		if err := repo.LockKeys(ctx, "ref:RB:2025", "guard:vehicle:WXY1234", "guard:card:OKU1", "ref:RB:2025"); err != nil {
			return err
		}
		highest, err := repo.MaxReferenceSequence(ctx, "RB", 2025)
		next = highest + 1
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 42, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunInTx_RollbackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(ctx context.Context, repo Repository) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LockKeysOutsideTxIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.LockKeys(context.Background(), "ref:RB:2025"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IssueCounters(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sticker_applications`).
		WithArgs(2025).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(349))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(serial_seq\), 0\)`).
		WithArgs(2025).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(349))

	issued, err := s.CountIssuedSerials(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, 349, issued)

	seq, err := s.MaxSerialSequence(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, 349, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_Approve(t *testing.T) {
	s, mock := newMockStore(t)
	app := sampleApplication()
	approved := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	expiry := time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC)
	app.Status = models.StatusApproved
	app.SerialNumber = "MPHS/2025/0001"
	app.ApprovedAt = &approved
	app.ExpiryAt = &expiry
	app.UpdatedAt = approved

	mock.ExpectExec(`UPDATE sticker_applications SET`).
		WithArgs("app-1", "approved", "MPHS/2025/0001", 2025, 1, nil, approved, nil, nil, "2027-12-31", approved).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Update(context.Background(), app, &SerialParts{Year: 2025, Seq: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_NoRows(t *testing.T) {
	s, mock := newMockStore(t)
	app := sampleApplication()

	mock.ExpectExec(`UPDATE sticker_applications SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(context.Background(), app, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_SaveAndLockSession(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO sticker_sessions`).
		WithArgs(2025, "MPHS", 350, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT year, prefix, capacity, updated_at FROM sticker_sessions WHERE year = \$1 FOR UPDATE`).
		WithArgs(2025).
		WillReturnRows(sqlmock.NewRows([]string{"year", "prefix", "capacity", "updated_at"}).AddRow(2025, "MPHS", 350, now))
	mock.ExpectCommit()

	require.NoError(t, s.SaveSession(context.Background(), &models.SessionConfig{Year: 2025, Prefix: "MPHS", Capacity: 350, UpdatedAt: now}))

	err := s.RunInTx(context.Background(), func(ctx context.Context, repo Repository) error {
		cfg, err := repo.LockSession(ctx, 2025)
		if err != nil {
			return err
		}
		assert.Equal(t, 350, cfg.Capacity)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"unique", &pq.Error{Code: "23505"}, ErrConflict},
		{"serialization", &pq.Error{Code: "40001"}, ErrSerialization},
		{"deadlock", &pq.Error{Code: "40P01"}, ErrSerialization},
		{"connection", &pq.Error{Code: "08006"}, ErrUnavailable},
		{"shutdown", &pq.Error{Code: "57P01"}, ErrUnavailable},
		{"bad conn", driver.ErrBadConn, ErrUnavailable},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	assert.False(t, IsRetryable(classify(&pq.Error{Code: "23514"})))
	assert.True(t, IsRetryable(classify(&pq.Error{Code: "40001"})))
}
