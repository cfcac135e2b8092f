// Package guard rejects applications whose disability-card, tax-account or
// vehicle-registration number is already registered to another applicant.
package guard

import (
	"context"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/models"
	"parking-sticker/internal/store"
)

// Guarded field names as reported in DUPLICATE_FIELD_CONFLICT.
const (
	FieldDisabilityCard = "disabilityCardNumber"
	FieldTaxAccount     = "taxAccountNumber"
	FieldVehicle        = "vehicleRegistration"
)

type Guard struct {
	repo   store.Repository
	logger logger.Logger
}

func New(repo store.Repository, log logger.Logger) *Guard {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Guard{repo: repo, logger: log.WithFields(map[string]interface{}{"component": "uniqueness-guard"})}
}

// Check is the read-only check against the guard's own repository.
func (g *Guard) Check(ctx context.Context, candidate models.Applicant, excludeID string) error {
	return g.CheckWith(ctx, g.repo, candidate, excludeID)
}

// CheckWith runs the check against repo, typically a transaction that already
// holds LockKeys(candidate).
//
// A record conflicts when it shares a guarded value and belongs to a different
// IC number, so an applicant's own earlier records never block a renewal.
// excludeID removes one record from consideration.
func (g *Guard) CheckWith(ctx context.Context, repo store.Repository, candidate models.Applicant, excludeID string) error {
	card := models.NormalizeIdentifier(candidate.DisabilityCardNumber)
	tax := models.NormalizeIdentifier(candidate.TaxAccountNumber)
	vehicle := models.NormalizeIdentifier(candidate.VehicleRegistration)

	if card == "" && tax == "" && vehicle == "" {
		return nil
	}

	matches, err := repo.FindByGuardedFields(ctx, card, tax, vehicle)
	if err != nil {
		g.logger.Error("Uniqueness check failed", map[string]interface{}{"error": err.Error()})
		return apperrors.NewStoreUnavailableError(err)
	}

	var hitCard, hitTax, hitVehicle bool
	for _, other := range matches {
		if other.ID == excludeID || other.Applicant.ICNumber == candidate.ICNumber {
			continue
		}
		hitCard = hitCard || (card != "" && other.Applicant.DisabilityCardNumber == card)
		hitTax = hitTax || (tax != "" && other.Applicant.TaxAccountNumber == tax)
		hitVehicle = hitVehicle || (vehicle != "" && other.Applicant.VehicleRegistration == vehicle)
	}

	var fields []string
	if hitCard {
		fields = append(fields, FieldDisabilityCard)
	}
	if hitTax {
		fields = append(fields, FieldTaxAccount)
	}
	if hitVehicle {
		fields = append(fields, FieldVehicle)
	}
	if len(fields) == 0 {
		return nil
	}

	metrics.DuplicateConflicts.Inc()
	g.logger.Info("Duplicate guarded field", map[string]interface{}{
		"icNumber": candidate.ICNumber,
		"fields":   fields,
	})
	return apperrors.NewDuplicateFieldConflictError(fields)
}

// LockKeys returns the advisory lock keys that serialize concurrent
// submissions carrying the same guarded values.
func LockKeys(candidate models.Applicant) []string {
	var keys []string
	if v := models.NormalizeIdentifier(candidate.DisabilityCardNumber); v != "" {
		keys = append(keys, "guard:card:"+v)
	}
	if v := models.NormalizeIdentifier(candidate.TaxAccountNumber); v != "" {
		keys = append(keys, "guard:tax:"+v)
	}
	if v := models.NormalizeIdentifier(candidate.VehicleRegistration); v != "" {
		keys = append(keys, "guard:vehicle:"+v)
	}
	return keys
}
