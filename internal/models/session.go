package models

import "time"

// SessionConfig is the per-calendar-year issuance configuration.
type SessionConfig struct {
	Year      int       `json:"year"`
	Prefix    string    `json:"prefix"`
	Capacity  int       `json:"capacity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionUsage reports how much of a year's capacity is consumed.
type SessionUsage struct {
	SessionConfig
	Issued    int `json:"issued"`
	Remaining int `json:"remaining"`
}

func NewSessionUsage(cfg SessionConfig, issued int) SessionUsage {
	remaining := cfg.Capacity - issued
	if remaining < 0 {
		remaining = 0
	}
	return SessionUsage{SessionConfig: cfg, Issued: issued, Remaining: remaining}
}
