package sendnotification

import "parking-sticker/internal/models"

type Input struct {
	ApplicationID     string                   `json:"applicationId"`
	NotificationEvent models.NotificationEvent `json:"notificationEvent"`
}

type Output struct {
	NotificationID string                `json:"notificationId"`
	Status         string                `json:"status"` // "sent", "failed", "disabled"
	Deliveries     []models.Notification `json:"deliveries"`
	SentAt         string                `json:"sentAt"` // ISO 8601
}

// Statuses
const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

// Channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type template struct {
	Subject string
	Body    string
	SMS     string
}
