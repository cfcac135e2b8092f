package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/models"
	"parking-sticker/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insert(t *testing.T, s *store.MemoryStore, id string, seq int, a models.Applicant) {
	t.Helper()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	app := &models.Application{
		ID:              id,
		ReferenceNumber: "RB2025000" + string(rune('0'+seq)),
		Type:            models.TypeNew,
		Status:          models.StatusSubmitted,
		Applicant:       a,
		SubmittedAt:     now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.Insert(context.Background(), app, store.ReferenceParts{Prefix: "RB", Year: 2025, Seq: seq}))
}

func existing() models.Applicant {
	return models.Applicant{
		Name:                 "Ahmad bin Ali",
		ICNumber:             "700101-14-1111",
		DisabilityCardNumber: "OKU777",
		TaxAccountNumber:     "SG1234567",
		VehicleRegistration:  "WXY1234",
	}
}

func TestCheck_NoMatch(t *testing.T) {
	s := store.NewMemoryStore()
	insert(t, s, "app-1", 1, existing())
	g := New(s, logger.NewNoOpLogger())

	err := g.Check(context.Background(), models.Applicant{
		ICNumber:             "850215-10-5432",
		DisabilityCardNumber: "OKU123",
		VehicleRegistration:  "BCD9876",
	}, "")
	assert.NoError(t, err)
}

func TestCheck_VehicleConflict(t *testing.T) {
	s := store.NewMemoryStore()
	insert(t, s, "app-1", 1, existing())
	g := New(s, logger.NewNoOpLogger())

	err := g.Check(context.Background(), models.Applicant{
		ICNumber:             "850215-10-5432",
		DisabilityCardNumber: "OKU123",
		VehicleRegistration:  "wxy 1234",
	}, "")
	require.Error(t, err)

	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDuplicateFieldConflict, stdErr.Code)
	assert.Equal(t, []string{FieldVehicle}, stdErr.Metadata["fields"])
}

func TestCheck_ReportsEveryField(t *testing.T) {
	s := store.NewMemoryStore()
	insert(t, s, "app-1", 1, existing())
	g := New(s, logger.NewNoOpLogger())

	err := g.Check(context.Background(), models.Applicant{
		ICNumber:             "850215-10-5432",
		DisabilityCardNumber: "OKU-777",
		TaxAccountNumber:     "SG1234567",
		VehicleRegistration:  "WXY1234",
	}, "")

	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, []string{FieldDisabilityCard, FieldTaxAccount, FieldVehicle}, stdErr.Metadata["fields"])
}

func TestCheck_SelfExclusion(t *testing.T) {
	s := store.NewMemoryStore()
	insert(t, s, "app-1", 1, existing())
	g := New(s, logger.NewNoOpLogger())
	ctx := context.Background()

	t.Run("own earlier record", func(t *testing.T) {
		assert.NoError(t, g.Check(ctx, existing(), ""))
	})

	t.Run("excluded record id", func(t *testing.T) {
		other := existing()
		other.ICNumber = "850215-10-5432"
		assert.NoError(t, g.Check(ctx, other, "app-1"))
		assert.Error(t, g.Check(ctx, other, "app-2"))
	})
}

func TestCheck_EmptyTaxAccountNeverCollides(t *testing.T) {
	s := store.NewMemoryStore()
	a := existing()
	a.TaxAccountNumber = ""
	insert(t, s, "app-1", 1, a)
	g := New(s, logger.NewNoOpLogger())

	err := g.Check(context.Background(), models.Applicant{
		ICNumber:             "850215-10-5432",
		DisabilityCardNumber: "OKU123",
		VehicleRegistration:  "BCD9876",
	}, "")
	assert.NoError(t, err)
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) FindByGuardedFields(context.Context, string, string, string) ([]*models.Application, error) {
	return nil, store.ErrUnavailable
}

func TestCheck_FailsClosed(t *testing.T) {
	g := New(failingRepo{}, logger.NewNoOpLogger())

	err := g.Check(context.Background(), existing(), "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreUnavailable))
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestLockKeys(t *testing.T) {
	keys := LockKeys(models.Applicant{DisabilityCardNumber: "oku 1", VehicleRegistration: "wxy-1234"})
	assert.Equal(t, []string{"guard:card:OKU1", "guard:vehicle:WXY1234"}, keys)
	assert.Empty(t, LockKeys(models.Applicant{}))
}
