package reporting

import (
	"fmt"
	"time"

	"parking-sticker/internal/models"
)

// Document is the flattened search representation of an application.
type Document struct {
	ID                  string     `json:"id"`
	ReferenceNumber     string     `json:"referenceNumber"`
	ApplicationType     string     `json:"applicationType"`
	Status              string     `json:"status"`
	ApplicantName       string     `json:"applicantName"`
	ICNumber            string     `json:"icNumber"`
	VehicleRegistration string     `json:"vehicleRegistration"`
	DisabilityCategory  string     `json:"disabilityCategory"`
	SubmissionYear      int        `json:"submissionYear"`
	SerialNumber        string     `json:"serialNumber,omitempty"`
	SubmittedAt         time.Time  `json:"submittedAt"`
	ApprovedAt          *time.Time `json:"approvedAt,omitempty"`
	ReadyAt             *time.Time `json:"readyAt,omitempty"`
	CollectedAt         *time.Time `json:"collectedAt,omitempty"`
	ExpiryAt            string     `json:"expiryAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// NewDocument flattens app. A serial without an approval time is refused so
// the index never reports one.
func NewDocument(app *models.Application, loc *time.Location) (*Document, error) {
	if app.SerialNumber != "" && app.ApprovedAt == nil {
		return nil, fmt.Errorf("application %s has serial %s without approval time", app.ID, app.SerialNumber)
	}
	if loc == nil {
		loc = time.UTC
	}
	doc := &Document{
		ID:                  app.ID,
		ReferenceNumber:     app.ReferenceNumber,
		ApplicationType:     string(app.Type),
		Status:              string(app.Status),
		ApplicantName:       app.Applicant.Name,
		ICNumber:            app.Applicant.ICNumber,
		VehicleRegistration: app.Applicant.VehicleRegistration,
		DisabilityCategory:  app.Applicant.DisabilityCategory,
		SubmissionYear:      app.SubmittedAt.In(loc).Year(),
		SerialNumber:        app.SerialNumber,
		SubmittedAt:         app.SubmittedAt,
		ApprovedAt:          app.ApprovedAt,
		ReadyAt:             app.ReadyAt,
		CollectedAt:         app.CollectedAt,
		UpdatedAt:           app.UpdatedAt,
	}
	if app.ExpiryAt != nil {
		doc.ExpiryAt = app.ExpiryAt.Format(models.DateLayout)
	}
	return doc, nil
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":                  {"type": "keyword"},
      "referenceNumber":     {"type": "keyword"},
      "applicationType":     {"type": "keyword"},
      "status":              {"type": "keyword"},
      "applicantName":       {"type": "text"},
      "icNumber":            {"type": "keyword"},
      "vehicleRegistration": {"type": "keyword"},
      "disabilityCategory":  {"type": "keyword"},
      "submissionYear":      {"type": "integer"},
      "serialNumber":        {"type": "keyword"},
      "submittedAt":         {"type": "date"},
      "approvedAt":          {"type": "date"},
      "readyAt":             {"type": "date"},
      "collectedAt":         {"type": "date"},
      "expiryAt":            {"type": "date", "format": "yyyy-MM-dd"},
      "updatedAt":           {"type": "date"}
    }
  }
}`
