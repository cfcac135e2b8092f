package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"parking-sticker/internal/allocator"
	"parking-sticker/internal/common/config"
	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/models"
	"parking-sticker/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClock advances one minute on every reading.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Minute)
	return now
}

type recordingIndexer struct {
	mu   sync.Mutex
	seen []models.Status
	err  error
}

func (r *recordingIndexer) Index(_ context.Context, app *models.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, app.Status)
	return r.err
}

func kualaLumpur(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	require.NoError(t, err)
	return loc
}

func newTestService(t *testing.T, s store.Store, start time.Time, opts ...Option) *Service {
	t.Helper()
	log := logger.NewTestLogger(t)
	alloc := allocator.New(s, config.AllocationConfig{MaxAttempts: 3, Backoff: 1}, log)
	clock := &fakeClock{t: start}
	seq := 0
	var mu sync.Mutex
	base := []Option{
		WithLocation(kualaLumpur(t)),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("app-%d", seq)
		}),
	}
	return NewService(s, alloc, log, append(base, opts...)...)
}

var march2025 = time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

func request(ic, card, vehicle string) SubmitRequest {
	return SubmitRequest{
		Type: models.TypeNew,
		Applicant: models.Applicant{
			Name:                 "Siti Nurhaliza",
			ICNumber:             ic,
			DisabilityCardNumber: card,
			Phone:                "0123456789",
			VehicleRegistration:  vehicle,
			DisabilityCategory:   "physical",
			Address:              "12 Jalan Mawar, Petaling Jaya",
		},
		Documents: models.Documents{
			IdentityCopy:       "docs/ic.pdf",
			DisabilityCardCopy: "docs/card.pdf",
			DrivingLicenceCopy: "docs/licence.pdf",
			PassportPhoto:      "docs/photo.jpg",
		},
	}
}

func configureSession(t *testing.T, s store.Store, year, capacity int) {
	t.Helper()
	require.NoError(t, s.SaveSession(context.Background(), &models.SessionConfig{Year: year, Prefix: "MPHS", Capacity: capacity}))
}

func TestLifecycle_HappyPath(t *testing.T) {
	s := store.NewMemoryStore()
	configureSession(t, s, 2025, 350)
	idx := &recordingIndexer{}
	svc := newTestService(t, s, march2025, WithIndexer(idx))
	ctx := context.Background()

	app, err := svc.Submit(ctx, request("850215-10-5432", "OKU123456", "WXY1234"))
	require.NoError(t, err)
	assert.Equal(t, "RB20250001", app.ReferenceNumber)
	assert.Equal(t, models.StatusSubmitted, app.Status)

	app, err = svc.Approve(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "MPHS/2025/0001", app.SerialNumber)
	require.NotNil(t, app.ExpiryAt)
	assert.Equal(t, "2027-12-31", app.ExpiryAt.Format(models.DateLayout))

	app, err = svc.MarkReadyForCollection(ctx, app.ID)
	require.NoError(t, err)
	app, err = svc.MarkCollected(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCollected, app.Status)

	require.NotNil(t, app.ApprovedAt)
	require.NotNil(t, app.ReadyAt)
	require.NotNil(t, app.CollectedAt)
	assert.False(t, app.ApprovedAt.Before(app.SubmittedAt))
	assert.False(t, app.ReadyAt.Before(*app.ApprovedAt))
	assert.False(t, app.CollectedAt.Before(*app.ReadyAt))

	stored, err := svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app, stored)

	assert.Equal(t, []models.Status{
		models.StatusSubmitted, models.StatusApproved, models.StatusReadyForCollection, models.StatusCollected,
	}, idx.seen)
}

func TestLifecycle_SubmitNormalizes(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore(), march2025)

	app, err := svc.Submit(context.Background(), request("850215105432", "oku-123", "wxy 1234"))
	require.NoError(t, err)
	assert.Equal(t, "850215-10-5432", app.Applicant.ICNumber)
	assert.Equal(t, "OKU123", app.Applicant.DisabilityCardNumber)
	assert.Equal(t, "WXY1234", app.Applicant.VehicleRegistration)
}

func TestLifecycle_DuplicateVehicleRejected(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newTestService(t, s, march2025)
	ctx := context.Background()

	_, err := svc.Submit(ctx, request("700101-14-1111", "OKU777", "WXY1234"))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, request("850215-10-5432", "OKU123456", "WXY1234"))
	require.Error(t, err)
	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDuplicateFieldConflict, stdErr.Code)
	assert.Equal(t, []string{"vehicleRegistration"}, stdErr.Metadata["fields"])

	all, err := svc.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLifecycle_SubmitValidation(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore(), march2025)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		want   string
	}{
		{"unknown type", func(r *SubmitRequest) { r.Type = "upgrade" }, "applicationType"},
		{"bad IC", func(r *SubmitRequest) { r.Applicant.ICNumber = "1234" }, "icNumber"},
		{"missing vehicle", func(r *SubmitRequest) { r.Applicant.VehicleRegistration = "" }, "vehicleRegistration"},
		{"vehicle of separators only", func(r *SubmitRequest) { r.Applicant.VehicleRegistration = " - " }, "vehicleRegistration"},
		{"card of separators only", func(r *SubmitRequest) { r.Applicant.DisabilityCardNumber = "--" }, "disabilityCardNumber"},
		{"blank name", func(r *SubmitRequest) { r.Applicant.Name = "   " }, "name"},
		{"missing photo", func(r *SubmitRequest) { r.Documents.PassportPhoto = "" }, "passportPhoto"},
		{"dependent without signature", func(r *SubmitRequest) {
			r.Dependent = &models.Dependent{Name: "Aminah", ICNumber: "900101-10-2222", Relationship: "daughter"}
		}, "dependentSignature"},
		{"dependent with bad IC", func(r *SubmitRequest) {
			r.Dependent = &models.Dependent{Name: "Aminah", ICNumber: "9001", Relationship: "daughter"}
			r.Documents.DependentSignature = "docs/sig.png"
		}, "dependent.icNumber"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("850215-10-5432", "OKU123456", "WXY1234")
			tt.mutate(&req)

			_, err := svc.Submit(ctx, req)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	all, err := svc.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLifecycle_Renewal(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newTestService(t, s, march2025)
	ctx := context.Background()

	t.Run("without prior record", func(t *testing.T) {
		req := request("850215-10-5432", "OKU123456", "WXY1234")
		req.Type = models.TypeRenewal
		_, err := svc.Submit(ctx, req)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	})

	first := request("850215-10-5432", "OKU123456", "WXY1234")
	first.Dependent = &models.Dependent{Name: "Aminah", ICNumber: "900101102222", Relationship: "daughter"}
	first.Documents.DependentSignature = "docs/sig.png"
	prior, err := svc.Submit(ctx, first)
	require.NoError(t, err)

	renewal := request("850215-10-5432", "OKU123456", "WXY1234")
	renewal.Type = models.TypeRenewal
	renewal.Documents = models.Documents{PassportPhoto: "docs/photo-2025.jpg"}

	app, err := svc.Submit(ctx, renewal)
	require.NoError(t, err)
	assert.NotEqual(t, prior.ID, app.ID)
	assert.Equal(t, "RP20250001", app.ReferenceNumber)
	assert.Equal(t, "docs/photo-2025.jpg", app.Documents.PassportPhoto)
	assert.Equal(t, "docs/ic.pdf", app.Documents.IdentityCopy)
	assert.Equal(t, "docs/sig.png", app.Documents.DependentSignature)
	require.NotNil(t, app.Dependent)
	assert.Equal(t, "900101-10-2222", app.Dependent.ICNumber)
	assert.Equal(t, models.StatusSubmitted, app.Status)
}

func TestLifecycle_ApproveErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("session not configured", func(t *testing.T) {
		svc := newTestService(t, store.NewMemoryStore(), march2025)
		app, err := svc.Submit(ctx, request("850215-10-5432", "OKU123456", "WXY1234"))
		require.NoError(t, err)

		_, err = svc.Approve(ctx, app.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotConfigured))
	})

	t.Run("capacity exceeded leaves record untouched", func(t *testing.T) {
		s := store.NewMemoryStore()
		configureSession(t, s, 2025, 1)
		svc := newTestService(t, s, march2025)

		a, err := svc.Submit(ctx, request("850215-10-5432", "OKU1", "WXY1"))
		require.NoError(t, err)
		b, err := svc.Submit(ctx, request("700101-14-1111", "OKU2", "WXY2"))
		require.NoError(t, err)

		_, err = svc.Approve(ctx, a.ID)
		require.NoError(t, err)

		_, err = svc.Approve(ctx, b.ID)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCapacityExceeded))

		stored, err := svc.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b, stored)
	})

	t.Run("unknown application", func(t *testing.T) {
		svc := newTestService(t, store.NewMemoryStore(), march2025)
		_, err := svc.Approve(ctx, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApplicationNotFound))

		_, err = svc.MarkCollected(ctx, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApplicationNotFound))
	})
}

func TestLifecycle_IllegalTransitions(t *testing.T) {
	s := store.NewMemoryStore()
	configureSession(t, s, 2025, 10)
	svc := newTestService(t, s, march2025)
	ctx := context.Background()

	app, err := svc.Submit(ctx, request("850215-10-5432", "OKU123456", "WXY1234"))
	require.NoError(t, err)

	_, err = svc.MarkReadyForCollection(ctx, app.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))
	_, err = svc.MarkCollected(ctx, app.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))

	_, err = svc.Approve(ctx, app.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, app.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))
	_, err = svc.MarkIncomplete(ctx, app.ID, "Missing photo")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))

	stored, err := svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, "MPHS/2025/0001", stored.SerialNumber)
}

func TestLifecycle_MarkIncomplete(t *testing.T) {
	s := store.NewMemoryStore()
	configureSession(t, s, 2025, 10)
	svc := newTestService(t, s, march2025)
	ctx := context.Background()

	app, err := svc.Submit(ctx, request("850215-10-5432", "OKU123456", "WXY1234"))
	require.NoError(t, err)

	_, err = svc.MarkIncomplete(ctx, app.ID, strings.Repeat("word ", 81))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	_, err = svc.MarkIncomplete(ctx, app.ID, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	stored, err := svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Empty(t, stored.AdminNotes)

	notes := strings.TrimSpace(strings.Repeat("word ", 80))
	app, err = svc.MarkIncomplete(ctx, app.ID, notes)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIncomplete, app.Status)
	assert.Equal(t, notes, app.AdminNotes)

	_, err = svc.Approve(ctx, app.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))
}

func TestLifecycle_IndexerFailureIsNotFatal(t *testing.T) {
	idx := &recordingIndexer{err: errors.New("es down")}
	svc := newTestService(t, store.NewMemoryStore(), march2025, WithIndexer(idx))

	_, err := svc.Submit(context.Background(), request("850215-10-5432", "OKU123456", "WXY1234"))
	require.NoError(t, err)
	assert.Len(t, idx.seen, 1)
}

func TestLifecycle_List(t *testing.T) {
	s := store.NewMemoryStore()
	configureSession(t, s, 2025, 10)
	svc := newTestService(t, s, march2025)
	ctx := context.Background()

	a, err := svc.Submit(ctx, request("850215-10-5432", "OKU1", "WXY1"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, request("700101-14-1111", "OKU2", "WXY2"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, a.ID)
	require.NoError(t, err)

	approved, err := svc.List(ctx, store.Filter{Status: models.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a.ID, approved[0].ID)

	_, err = svc.List(ctx, store.Filter{Status: "archived"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestLifecycle_ConcurrentSubmissionsGetDistinctReferences(t *testing.T) {
	const n = 25
	svc := newTestService(t, store.NewMemoryStore(), march2025)

	refs := make([]string, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			req := request(fmt.Sprintf("8502151%05d", i), fmt.Sprintf("OKU%d", i), fmt.Sprintf("WXY%d", i))
			app, err := svc.Submit(ctx, req)
			if err != nil {
				return err
			}
			refs[i] = app.ReferenceNumber
			return nil
		})
	}
	require.NoError(t, g.Wait())

	want := make([]string, n)
	for i := range want {
		want[i] = allocator.FormatReference("RB", 2025, i+1)
	}
	sort.Strings(refs)
	assert.Equal(t, want, refs)
}

func TestLifecycle_ConcurrentApprovalsRespectCapacity(t *testing.T) {
	const capacity = 5
	s := store.NewMemoryStore()
	configureSession(t, s, 2025, capacity)
	svc := newTestService(t, s, march2025)
	ctx := context.Background()

	ids := make([]string, capacity+1)
	for i := range ids {
		app, err := svc.Submit(ctx, request(fmt.Sprintf("8502151%05d", i), fmt.Sprintf("OKU%d", i), fmt.Sprintf("WXY%d", i)))
		require.NoError(t, err)
		ids[i] = app.ID
	}

	var (
		mu       sync.Mutex
		serials  []string
		rejected int
	)
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			app, err := svc.Approve(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				serials = append(serials, app.SerialNumber)
			case apperrors.HasCode(err, apperrors.ErrCodeCapacityExceeded):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, serials, capacity)
	assert.GreaterOrEqual(t, rejected, 1)

	seen := map[string]bool{}
	for _, serial := range serials {
		assert.False(t, seen[serial], "duplicate serial %s", serial)
		seen[serial] = true
	}

	issued, err := s.CountIssuedSerials(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, capacity, issued)
}

func TestLifecycle_YearFollowsConfiguredTimezone(t *testing.T) {
	s := store.NewMemoryStore()
	configureSession(t, s, 2026, 10)
	// 2025-12-31 17:00 UTC is already 2026-01-01 in Kuala Lumpur.
	svc := newTestService(t, s, time.Date(2025, 12, 31, 17, 0, 0, 0, time.UTC))
	ctx := context.Background()

	app, err := svc.Submit(ctx, request("850215-10-5432", "OKU123456", "WXY1234"))
	require.NoError(t, err)
	assert.Equal(t, "RB20260001", app.ReferenceNumber)

	app, err = svc.Approve(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "MPHS/2026/0001", app.SerialNumber)
	assert.Equal(t, "2028-12-31", app.ExpiryAt.Format(models.DateLayout))
}
