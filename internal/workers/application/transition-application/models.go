package transitionapplication

type Input struct {
	ApplicationID string `json:"applicationId"`
	AdminNotes    string `json:"adminNotes,omitempty"`
}

type Output struct {
	ApplicationID     string `json:"applicationId"`
	ReferenceNumber   string `json:"referenceNumber"`
	Status            string `json:"status"`
	SerialNumber      string `json:"serialNumber,omitempty"`
	ExpiryDate        string `json:"expiryDate,omitempty"` // YYYY-MM-DD
	AdminNotes        string `json:"adminNotes,omitempty"`
	NotificationEvent string `json:"notificationEvent,omitempty"`
	// Terminal tells the process the application will not move again.
	Terminal          bool   `json:"terminal"`
	UpdatedAt         string `json:"updatedAt"` // ISO 8601
}
