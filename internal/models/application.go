package models

import (
	"strings"
	"time"

	apperrors "parking-sticker/internal/common/errors"
)

// MaxAdminNoteWords bounds the note attached to an incomplete application.
const MaxAdminNoteWords = 80

// DateLayout is the wire format of expiry dates.
const DateLayout = "2006-01-02"

type Application struct {
	ID              string          `json:"id"`
	ReferenceNumber string          `json:"referenceNumber"`
	Type            ApplicationType `json:"applicationType"`
	Status          Status          `json:"status"`
	Applicant       Applicant       `json:"applicant"`
	Dependent       *Dependent      `json:"dependent,omitempty"`
	Documents       Documents       `json:"documents"`
	Location        *Location       `json:"location,omitempty"`
	SerialNumber    string          `json:"serialNumber,omitempty"`
	AdminNotes      string          `json:"adminNotes,omitempty"`
	SubmittedAt     time.Time       `json:"submittedAt"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	ReadyAt         *time.Time      `json:"readyAt,omitempty"`
	CollectedAt     *time.Time      `json:"collectedAt,omitempty"`
	ExpiryAt        *time.Time      `json:"expiryAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type Applicant struct {
	Name                 string `json:"name" validate:"required,max=200"`
	ICNumber             string `json:"icNumber" validate:"required,icnumber"`
	DisabilityCardNumber string `json:"disabilityCardNumber" validate:"required,max=50"`
	TaxAccountNumber     string `json:"taxAccountNumber,omitempty" validate:"omitempty,max=50"`
	Phone                string `json:"phone" validate:"required,min=7,max=20"`
	Email                string `json:"email,omitempty" validate:"omitempty,email"`
	VehicleRegistration  string `json:"vehicleRegistration" validate:"required,max=20"`
	DisabilityCategory   string `json:"disabilityCategory" validate:"required,max=100"`
	Address              string `json:"address" validate:"required,max=500"`
}

// Dependent is the person who drives on the applicant's behalf.
type Dependent struct {
	Name         string `json:"name" validate:"required,max=200"`
	ICNumber     string `json:"icNumber" validate:"required,icnumber"`
	Relationship string `json:"relationship" validate:"required,max=50"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
}

// Documents holds object-storage keys of the uploaded copies.
type Documents struct {
	IdentityCopy       string `json:"identityCopy,omitempty"`
	DisabilityCardCopy string `json:"disabilityCardCopy,omitempty"`
	DrivingLicenceCopy string `json:"drivingLicenceCopy,omitempty"`
	PassportPhoto      string `json:"passportPhoto,omitempty"`
	DependentSignature string `json:"dependentSignature,omitempty"`
}

// InheritFrom fills every unset document from prior.
func (d Documents) InheritFrom(prior Documents) Documents {
	pick := func(cur, old string) string {
		if strings.TrimSpace(cur) != "" {
			return cur
		}
		return old
	}
	return Documents{
		IdentityCopy:       pick(d.IdentityCopy, prior.IdentityCopy),
		DisabilityCardCopy: pick(d.DisabilityCardCopy, prior.DisabilityCardCopy),
		DrivingLicenceCopy: pick(d.DrivingLicenceCopy, prior.DrivingLicenceCopy),
		PassportPhoto:      pick(d.PassportPhoto, prior.PassportPhoto),
		DependentSignature: pick(d.DependentSignature, prior.DependentSignature),
	}
}

// Missing names the mandatory documents that are still unset.
func (d Documents) Missing(hasDependent bool) []string {
	var missing []string
	if strings.TrimSpace(d.IdentityCopy) == "" {
		missing = append(missing, "identityCopy")
	}
	if strings.TrimSpace(d.DisabilityCardCopy) == "" {
		missing = append(missing, "disabilityCardCopy")
	}
	if strings.TrimSpace(d.DrivingLicenceCopy) == "" {
		missing = append(missing, "drivingLicenceCopy")
	}
	if strings.TrimSpace(d.PassportPhoto) == "" {
		missing = append(missing, "passportPhoto")
	}
	if hasDependent && strings.TrimSpace(d.DependentSignature) == "" {
		missing = append(missing, "dependentSignature")
	}
	return missing
}

// Location is resolved by the external geocoding service and stored as given.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// Clone returns a deep copy.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	out := *a
	if a.Dependent != nil {
		dep := *a.Dependent
		out.Dependent = &dep
	}
	if a.Location != nil {
		loc := *a.Location
		out.Location = &loc
	}
	out.ApprovedAt = cloneTime(a.ApprovedAt)
	out.ReadyAt = cloneTime(a.ReadyAt)
	out.CollectedAt = cloneTime(a.CollectedAt)
	out.ExpiryAt = cloneTime(a.ExpiryAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ExpiryFor returns Dec 31 of the second calendar year after approval.
func ExpiryFor(approvedAt time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	year := approvedAt.In(loc).Year()
	return time.Date(year+2, time.December, 31, 0, 0, 0, 0, loc)
}

// ValidateAdminNotes requires between 1 and MaxAdminNoteWords words.
func ValidateAdminNotes(notes string) error {
	words := len(strings.Fields(notes))
	if words == 0 {
		return apperrors.NewValidationError("adminNotes: required when marking incomplete")
	}
	if words > MaxAdminNoteWords {
		return apperrors.NewValidationError("adminNotes: must not exceed 80 words")
	}
	return nil
}

func (a *Application) ensure(next Status) error {
	if !a.Status.CanTransitionTo(next) {
		return apperrors.NewIllegalTransitionError(string(a.Status), string(next))
	}
	return nil
}

// CanApprove reports whether Approve would be accepted.
func (a *Application) CanApprove() bool {
	return a.Status.CanTransitionTo(StatusApproved) && a.SerialNumber == ""
}

// Approve stamps the serial, approval time and expiry.
func (a *Application) Approve(serial string, now time.Time, loc *time.Location) error {
	if err := a.ensure(StatusApproved); err != nil {
		return err
	}
	if a.SerialNumber != "" {
		return apperrors.NewIllegalTransitionError(string(a.Status), string(StatusApproved))
	}
	expiry := ExpiryFor(now, loc)
	a.SerialNumber = serial
	a.ApprovedAt = &now
	a.ExpiryAt = &expiry
	a.Status = StatusApproved
	a.UpdatedAt = now
	return nil
}

func (a *Application) MarkIncomplete(notes string, now time.Time) error {
	if err := a.ensure(StatusIncomplete); err != nil {
		return err
	}
	if err := ValidateAdminNotes(notes); err != nil {
		return err
	}
	a.AdminNotes = strings.TrimSpace(notes)
	a.Status = StatusIncomplete
	a.UpdatedAt = now
	return nil
}

func (a *Application) MarkReadyForCollection(now time.Time) error {
	if err := a.ensure(StatusReadyForCollection); err != nil {
		return err
	}
	a.ReadyAt = &now
	a.Status = StatusReadyForCollection
	a.UpdatedAt = now
	return nil
}

func (a *Application) MarkCollected(now time.Time) error {
	if err := a.ensure(StatusCollected); err != nil {
		return err
	}
	a.CollectedAt = &now
	a.Status = StatusCollected
	a.UpdatedAt = now
	return nil
}

// CheckInvariants verifies the record-level invariants that the store also
// enforces with CHECK constraints.
func (a *Application) CheckInvariants() error {
	issued := a.SerialNumber != ""
	if issued != (a.ApprovedAt != nil) || issued != (a.ExpiryAt != nil) {
		return apperrors.NewValidationError("serialNumber, approvedAt and expiryAt must be set together")
	}
	if issued != a.Status.IsIssued() {
		return apperrors.NewValidationError("serialNumber present only on approved or later records")
	}
	if (a.Status == StatusIncomplete) != (a.AdminNotes != "") {
		return apperrors.NewValidationError("adminNotes present only when incomplete")
	}
	return nil
}
