package submitapplication

import "parking-sticker/internal/lifecycle"

type Input = lifecycle.SubmitRequest

type Output struct {
	ApplicationID   string `json:"applicationId"`
	ReferenceNumber string `json:"referenceNumber"`
	ApplicationType string `json:"applicationType"`
	Status          string `json:"status"`
	SubmittedAt     string `json:"submittedAt"` // ISO 8601
	Replayed        bool   `json:"replayed"`
}
