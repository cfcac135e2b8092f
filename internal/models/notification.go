package models

// NotificationEvent is the lifecycle event an applicant is told about.
type NotificationEvent string

const (
	EventApproved           NotificationEvent = "approved"
	EventIncomplete         NotificationEvent = "incomplete"
	EventReadyForCollection NotificationEvent = "ready_for_collection"
)

type Notification struct {
	ID              string            `json:"id"`
	ApplicationID   string            `json:"applicationId"`
	ReferenceNumber string            `json:"referenceNumber"`
	Event           NotificationEvent `json:"event"`
	Channel         string            `json:"channel"` // "email" or "sms"
	Status          string            `json:"status"`  // "sent", "failed", "disabled"
	MessageID       string            `json:"messageId,omitempty"`
	SentAt          string            `json:"sentAt,omitempty"`
}
