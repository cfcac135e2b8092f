package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parking-sticker/internal/models"
)

// MemoryStore keeps everything in process. A transaction holds the store
// mutex for its whole duration and commits a working copy on success, so
// transactions are fully serialized.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memRow struct {
	app    *models.Application
	ref    ReferenceParts
	serial *SerialParts
}

type memData struct {
	apps     map[string]*memRow
	refs     map[string]string // reference number -> id
	serials  map[string]string // serial number -> id
	seqs     map[SerialParts]string
	sessions map[int]*models.SessionConfig
	order    []string // insertion order
}

func newMemData() *memData {
	return &memData{
		apps:     make(map[string]*memRow),
		refs:     make(map[string]string),
		serials:  make(map[string]string),
		seqs:     make(map[SerialParts]string),
		sessions: make(map[int]*models.SessionConfig),
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for id, row := range d.apps {
		cp := &memRow{app: row.app.Clone(), ref: row.ref}
		if row.serial != nil {
			s := *row.serial
			cp.serial = &s
		}
		out.apps[id] = cp
	}
	for k, v := range d.refs {
		out.refs[k] = v
	}
	for k, v := range d.serials {
		out.serials[k] = v
	}
	for k, v := range d.seqs {
		out.seqs[k] = v
	}
	for k, v := range d.sessions {
		s := *v
		out.sessions[k] = &s
	}
	out.order = append([]string(nil), d.order...)
	return out
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &memTx{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.data = work
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) with(fn func(tx *memTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{d: s.data})
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (out *models.Application, err error) {
	err = s.with(func(tx *memTx) error {
		out, err = tx.FindByID(ctx, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) LockApplication(ctx context.Context, id string) (*models.Application, error) {
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) FindLatestByIC(ctx context.Context, ic string) (out *models.Application, err error) {
	err = s.with(func(tx *memTx) error {
		out, err = tx.FindLatestByIC(ctx, ic)
		return err
	})
	return out, err
}

func (s *MemoryStore) FindByGuardedFields(ctx context.Context, card, tax, vehicle string) (out []*models.Application, err error) {
	err = s.with(func(tx *memTx) error {
		out, err = tx.FindByGuardedFields(ctx, card, tax, vehicle)
		return err
	})
	return out, err
}

func (s *MemoryStore) List(ctx context.Context, f Filter) (out []*models.Application, err error) {
	err = s.with(func(tx *memTx) error {
		out, err = tx.List(ctx, f)
		return err
	})
	return out, err
}

func (s *MemoryStore) MaxReferenceSequence(ctx context.Context, prefix string, year int) (n int, err error) {
	err = s.with(func(tx *memTx) error {
		n, err = tx.MaxReferenceSequence(ctx, prefix, year)
		return err
	})
	return n, err
}

func (s *MemoryStore) MaxSerialSequence(ctx context.Context, year int) (n int, err error) {
	err = s.with(func(tx *memTx) error {
		n, err = tx.MaxSerialSequence(ctx, year)
		return err
	})
	return n, err
}

func (s *MemoryStore) CountIssuedSerials(ctx context.Context, year int) (n int, err error) {
	err = s.with(func(tx *memTx) error {
		n, err = tx.CountIssuedSerials(ctx, year)
		return err
	})
	return n, err
}

func (s *MemoryStore) Insert(ctx context.Context, app *models.Application, ref ReferenceParts) error {
	return s.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Insert(ctx, app, ref)
	})
}

func (s *MemoryStore) Update(ctx context.Context, app *models.Application, serial *SerialParts) error {
	return s.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Update(ctx, app, serial)
	})
}

func (s *MemoryStore) FindSession(ctx context.Context, year int) (out *models.SessionConfig, err error) {
	err = s.with(func(tx *memTx) error {
		out, err = tx.FindSession(ctx, year)
		return err
	})
	return out, err
}

func (s *MemoryStore) LockSession(ctx context.Context, year int) (*models.SessionConfig, error) {
	return s.FindSession(ctx, year)
}

func (s *MemoryStore) SaveSession(ctx context.Context, cfg *models.SessionConfig) error {
	return s.with(func(tx *memTx) error { return tx.SaveSession(ctx, cfg) })
}

func (s *MemoryStore) LockKeys(context.Context, ...string) error { return nil }

// memTx operates directly on one memData snapshot. The caller holds the mutex.
type memTx struct {
	d *memData
}

func (t *memTx) FindByID(_ context.Context, id string) (*models.Application, error) {
	row, ok := t.d.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row.app.Clone(), nil
}

func (t *memTx) LockApplication(ctx context.Context, id string) (*models.Application, error) {
	return t.FindByID(ctx, id)
}

func (t *memTx) FindLatestByIC(_ context.Context, ic string) (*models.Application, error) {
	var latest *memRow
	for _, id := range t.d.order {
		row := t.d.apps[id]
		if row.app.Applicant.ICNumber != ic {
			continue
		}
		if latest == nil || !row.app.SubmittedAt.Before(latest.app.SubmittedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.app.Clone(), nil
}

func (t *memTx) FindByGuardedFields(_ context.Context, card, tax, vehicle string) ([]*models.Application, error) {
	var out []*models.Application
	for _, id := range t.d.order {
		a := t.d.apps[id].app
		if (card != "" && a.Applicant.DisabilityCardNumber == card) ||
			(tax != "" && a.Applicant.TaxAccountNumber == tax) ||
			(vehicle != "" && a.Applicant.VehicleRegistration == vehicle) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (t *memTx) List(_ context.Context, f Filter) ([]*models.Application, error) {
	var out []*models.Application
	for _, id := range t.d.order {
		row := t.d.apps[id]
		if f.Status != "" && row.app.Status != f.Status {
			continue
		}
		if f.Type != "" && row.app.Type != f.Type {
			continue
		}
		if f.Year != 0 && row.ref.Year != f.Year {
			continue
		}
		if f.ReferenceNumber != "" && row.app.ReferenceNumber != f.ReferenceNumber {
			continue
		}
		if f.SerialNumber != "" && row.app.SerialNumber != f.SerialNumber {
			continue
		}
		out = append(out, row.app.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) MaxReferenceSequence(_ context.Context, prefix string, year int) (int, error) {
	highest := 0
	for _, row := range t.d.apps {
		if row.ref.Prefix == prefix && row.ref.Year == year && row.ref.Seq > highest {
			highest = row.ref.Seq
		}
	}
	return highest, nil
}

func (t *memTx) MaxSerialSequence(_ context.Context, year int) (int, error) {
	highest := 0
	for k := range t.d.seqs {
		if k.Year == year && k.Seq > highest {
			highest = k.Seq
		}
	}
	return highest, nil
}

func (t *memTx) CountIssuedSerials(_ context.Context, year int) (int, error) {
	n := 0
	for k := range t.d.seqs {
		if k.Year == year {
			n++
		}
	}
	return n, nil
}

func (t *memTx) Insert(_ context.Context, app *models.Application, ref ReferenceParts) error {
	if _, exists := t.d.apps[app.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrConflict, app.ID)
	}
	if _, exists := t.d.refs[app.ReferenceNumber]; exists {
		return fmt.Errorf("%w: reference %s", ErrConflict, app.ReferenceNumber)
	}
	if err := app.CheckInvariants(); err != nil {
		return err
	}
	t.d.apps[app.ID] = &memRow{app: app.Clone(), ref: ref}
	t.d.refs[app.ReferenceNumber] = app.ID
	t.d.order = append(t.d.order, app.ID)
	return nil
}

func (t *memTx) Update(_ context.Context, app *models.Application, serial *SerialParts) error {
	row, ok := t.d.apps[app.ID]
	if !ok {
		return ErrNotFound
	}
	if row.app.ReferenceNumber != app.ReferenceNumber {
		return fmt.Errorf("%w: reference number is immutable", ErrConflict)
	}
	if row.app.SerialNumber != "" && row.app.SerialNumber != app.SerialNumber {
		return fmt.Errorf("%w: serial number is immutable", ErrConflict)
	}
	if err := app.CheckInvariants(); err != nil {
		return err
	}

	if row.app.SerialNumber == "" && app.SerialNumber != "" {
		if serial == nil {
			return fmt.Errorf("serial parts required when issuing %s", app.SerialNumber)
		}
		if _, taken := t.d.serials[app.SerialNumber]; taken {
			return fmt.Errorf("%w: serial %s", ErrConflict, app.SerialNumber)
		}
		if _, taken := t.d.seqs[*serial]; taken {
			return fmt.Errorf("%w: serial sequence %d/%d", ErrConflict, serial.Year, serial.Seq)
		}
		t.d.serials[app.SerialNumber] = app.ID
		t.d.seqs[*serial] = app.ID
		s := *serial
		row.serial = &s
	}
	row.app = app.Clone()
	return nil
}

func (t *memTx) FindSession(_ context.Context, year int) (*models.SessionConfig, error) {
	cfg, ok := t.d.sessions[year]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cfg
	return &out, nil
}

func (t *memTx) LockSession(ctx context.Context, year int) (*models.SessionConfig, error) {
	return t.FindSession(ctx, year)
}

func (t *memTx) SaveSession(_ context.Context, cfg *models.SessionConfig) error {
	if cfg.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	c := *cfg
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	t.d.sessions[cfg.Year] = &c
	return nil
}

func (t *memTx) LockKeys(context.Context, ...string) error { return nil }
