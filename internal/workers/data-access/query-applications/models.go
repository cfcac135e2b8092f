package queryapplications

import (
	"parking-sticker/internal/models"
	"parking-sticker/internal/reporting"
)

const (
	QueryTypeList    = "list"
	QueryTypeSearch  = "search"
	QueryTypeSummary = "summary"
	QueryTypeUsage   = "usage"
)

type Input struct {
	QueryType       string `json:"queryType"`
	Status          string `json:"status,omitempty"`
	ApplicationType string `json:"applicationType,omitempty"`
	Year            int    `json:"year,omitempty"`
	Text            string `json:"text,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	From            int    `json:"from,omitempty"`
	Size            int    `json:"size,omitempty"`
}

type Output struct {
	QueryType    string                `json:"queryType"`
	Applications []*models.Application `json:"applications,omitempty"`
	Documents    []*reporting.Document `json:"documents,omitempty"`
	Total        int64                 `json:"total"`
	Took         int64                 `json:"took"` // milliseconds
	Summary      *reporting.Summary    `json:"summary,omitempty"`
	Usage        *models.SessionUsage  `json:"usage,omitempty"`
}
