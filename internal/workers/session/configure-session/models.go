package configuresession

// Input carries the year and whichever settings change. With neither
// prefix nor capacity the job only reports current usage.
type Input struct {
	Year     int     `json:"year"`
	Prefix   *string `json:"prefix,omitempty"`
	Capacity *int    `json:"capacity,omitempty"`
}

type Output struct {
	Year      int    `json:"year"`
	Prefix    string `json:"prefix"`
	Capacity  int    `json:"capacity"`
	Issued    int    `json:"issued"`
	Remaining int    `json:"remaining"`
	Action    string `json:"action"` // "configured", "prefix_updated", "capacity_updated", "read"
}

const (
	ActionConfigured      = "configured"
	ActionPrefixUpdated   = "prefix_updated"
	ActionCapacityUpdated = "capacity_updated"
	ActionRead            = "read"
)
