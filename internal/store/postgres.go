package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"parking-sticker/internal/models"

	"github.com/lib/pq"
)

// Schema is the idempotent DDL for the sticker tables.
//
//go:embed schema.sql
var Schema string

const applicationColumns = `id, reference_number, application_type, status, applicant, dependent,
	documents, location, serial_number, admin_notes, submitted_at, approved_at, ready_at,
	collected_at, expiry_at, updated_at`

const defaultTxTimeout = 10 * time.Second

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore runs every transaction at READ COMMITTED. Allocation is
// serialized with row locks on sticker_sessions and transaction-scoped
// advisory locks; unique constraints back both up.
type PostgresStore struct {
	*pgRepo
	db        *sql.DB
	txTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		pgRepo:    &pgRepo{q: db},
		db:        db,
		txTimeout: defaultTxTimeout,
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn TxFunc) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}

	if err := fn(ctx, &pgRepo{q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

type pgRepo struct {
	q    querier
	inTx bool
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(r rowScanner) (*models.Application, error) {
	var (
		app                                   models.Application
		appType, status                       string
		applicant, documents                  []byte
		dependent, location                   []byte
		serial, notes                         sql.NullString
		approved, ready, collected, expiryRaw sql.NullTime
	)
	err := r.Scan(
		&app.ID, &app.ReferenceNumber, &appType, &status, &applicant, &dependent,
		&documents, &location, &serial, &notes, &app.SubmittedAt, &approved, &ready,
		&collected, &expiryRaw, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Type = models.ApplicationType(appType)
	app.Status = models.Status(status)
	app.SerialNumber = serial.String
	app.AdminNotes = notes.String

	if err := json.Unmarshal(applicant, &app.Applicant); err != nil {
		return nil, fmt.Errorf("decode applicant: %w", err)
	}
	if err := json.Unmarshal(documents, &app.Documents); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	if len(dependent) > 0 {
		app.Dependent = &models.Dependent{}
		if err := json.Unmarshal(dependent, app.Dependent); err != nil {
			return nil, fmt.Errorf("decode dependent: %w", err)
		}
	}
	if len(location) > 0 {
		app.Location = &models.Location{}
		if err := json.Unmarshal(location, app.Location); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
	}
	app.ApprovedAt = nullTime(approved)
	app.ReadyAt = nullTime(ready)
	app.CollectedAt = nullTime(collected)
	app.ExpiryAt = nullTime(expiryRaw)
	return &app, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func dateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(models.DateLayout)
}

func stringArg(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func jsonArg(v interface{}, present bool) (interface{}, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *pgRepo) findOne(ctx context.Context, query string, args ...interface{}) (*models.Application, error) {
	app, err := scanApplication(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, classify(err)
	}
	return app, nil
}

func (r *pgRepo) findMany(ctx context.Context, query string, args ...interface{}) ([]*models.Application, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *pgRepo) FindByID(ctx context.Context, id string) (*models.Application, error) {
	return r.findOne(ctx, `SELECT `+applicationColumns+` FROM sticker_applications WHERE id = $1`, id)
}

func (r *pgRepo) LockApplication(ctx context.Context, id string) (*models.Application, error) {
	return r.findOne(ctx, `SELECT `+applicationColumns+` FROM sticker_applications WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgRepo) FindLatestByIC(ctx context.Context, ic string) (*models.Application, error) {
	return r.findOne(ctx, `SELECT `+applicationColumns+` FROM sticker_applications
		WHERE ic_number = $1
		ORDER BY submitted_at DESC, reference_seq DESC
		LIMIT 1`, ic)
}

func (r *pgRepo) FindByGuardedFields(ctx context.Context, card, tax, vehicle string) ([]*models.Application, error) {
	return r.findMany(ctx, `SELECT `+applicationColumns+` FROM sticker_applications
		WHERE ($1 <> '' AND disability_card_number = $1)
		   OR ($2 <> '' AND tax_account_number = $2)
		   OR ($3 <> '' AND vehicle_registration = $3)
		ORDER BY submitted_at`, card, tax, vehicle)
}

func (r *pgRepo) List(ctx context.Context, f Filter) ([]*models.Application, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("application_type = $%d", string(f.Type))
	}
	if f.Year != 0 {
		add("reference_year = $%d", f.Year)
	}
	if f.ReferenceNumber != "" {
		add("reference_number = $%d", f.ReferenceNumber)
	}
	if f.SerialNumber != "" {
		add("serial_number = $%d", f.SerialNumber)
	}

	query := `SELECT ` + applicationColumns + ` FROM sticker_applications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at, reference_number`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return r.findMany(ctx, query, args...)
}

func (r *pgRepo) scanInt(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *pgRepo) MaxReferenceSequence(ctx context.Context, prefix string, year int) (int, error) {
	return r.scanInt(ctx, `SELECT COALESCE(MAX(reference_seq), 0) FROM sticker_applications
		WHERE reference_prefix = $1 AND reference_year = $2`, prefix, year)
}

func (r *pgRepo) MaxSerialSequence(ctx context.Context, year int) (int, error) {
	return r.scanInt(ctx, `SELECT COALESCE(MAX(serial_seq), 0) FROM sticker_applications
		WHERE serial_year = $1`, year)
}

func (r *pgRepo) CountIssuedSerials(ctx context.Context, year int) (int, error) {
	return r.scanInt(ctx, `SELECT COUNT(*) FROM sticker_applications
		WHERE serial_number IS NOT NULL AND serial_year = $1`, year)
}

func (r *pgRepo) Insert(ctx context.Context, app *models.Application, ref ReferenceParts) error {
	applicant, err := json.Marshal(app.Applicant)
	if err != nil {
		return fmt.Errorf("encode applicant: %w", err)
	}
	documents, err := json.Marshal(app.Documents)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	dependent, err := jsonArg(app.Dependent, app.Dependent != nil)
	if err != nil {
		return fmt.Errorf("encode dependent: %w", err)
	}
	location, err := jsonArg(app.Location, app.Location != nil)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sticker_applications (
			id, reference_number, reference_prefix, reference_year, reference_seq,
			application_type, status, ic_number, disability_card_number, tax_account_number,
			vehicle_registration, applicant, dependent, documents, location,
			submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		app.ID, app.ReferenceNumber, ref.Prefix, ref.Year, ref.Seq,
		string(app.Type), string(app.Status), app.Applicant.ICNumber,
		app.Applicant.DisabilityCardNumber, app.Applicant.TaxAccountNumber,
		app.Applicant.VehicleRegistration, applicant, dependent, documents, location,
		app.SubmittedAt, app.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Update writes the mutable lifecycle columns. serial_number only moves from
// NULL to a value; the WHERE clause refuses to overwrite an issued serial.
func (r *pgRepo) Update(ctx context.Context, app *models.Application, serial *SerialParts) error {
	var serialYear, serialSeq interface{}
	if serial != nil {
		serialYear, serialSeq = serial.Year, serial.Seq
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE sticker_applications SET
			status = $2,
			serial_number = COALESCE(serial_number, $3),
			serial_year = COALESCE(serial_year, $4),
			serial_seq = COALESCE(serial_seq, $5),
			admin_notes = $6,
			approved_at = $7,
			ready_at = $8,
			collected_at = $9,
			expiry_at = $10,
			updated_at = $11
		WHERE id = $1 AND (serial_number IS NULL OR serial_number = $3 OR $3 IS NULL)`,
		app.ID, string(app.Status), stringArg(app.SerialNumber), serialYear, serialSeq,
		stringArg(app.AdminNotes), timeArg(app.ApprovedAt), timeArg(app.ReadyAt),
		timeArg(app.CollectedAt), dateArg(app.ExpiryAt), app.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepo) FindSession(ctx context.Context, year int) (*models.SessionConfig, error) {
	return r.findSession(ctx, `SELECT year, prefix, capacity, updated_at FROM sticker_sessions WHERE year = $1`, year)
}

func (r *pgRepo) LockSession(ctx context.Context, year int) (*models.SessionConfig, error) {
	return r.findSession(ctx, `SELECT year, prefix, capacity, updated_at FROM sticker_sessions WHERE year = $1 FOR UPDATE`, year)
}

func (r *pgRepo) findSession(ctx context.Context, query string, year int) (*models.SessionConfig, error) {
	var cfg models.SessionConfig
	err := r.q.QueryRowContext(ctx, query, year).Scan(&cfg.Year, &cfg.Prefix, &cfg.Capacity, &cfg.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &cfg, nil
}

func (r *pgRepo) SaveSession(ctx context.Context, cfg *models.SessionConfig) error {
	updatedAt := cfg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sticker_sessions (year, prefix, capacity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (year) DO UPDATE
		SET prefix = EXCLUDED.prefix, capacity = EXCLUDED.capacity, updated_at = EXCLUDED.updated_at`,
		cfg.Year, cfg.Prefix, cfg.Capacity, updatedAt,
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// LockKeys acquires advisory locks in sorted order so two transactions
// locking overlapping key sets cannot deadlock.
func (r *pgRepo) LockKeys(ctx context.Context, keys ...string) error {
	if !r.inTx || len(keys) == 0 {
		return nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	prev := ""
	for _, key := range sorted {
		if key == prev {
			continue
		}
		prev = key
		if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return classify(err)
		}
	}
	return nil
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
		case pqErr.Code == "40001" || pqErr.Code == "40P01":
			return fmt.Errorf("%w: %s", ErrSerialization, pqErr.Message)
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %s", ErrUnavailable, pqErr.Message)
		}
		return fmt.Errorf("postgres %s: %w", pqErr.Code, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
