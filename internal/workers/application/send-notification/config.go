package sendnotification

import "time"

// Config controls which channels deliver lifecycle notices and how the
// applicant's contact details are rendered.
type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	FromEmail    string
	SMSSenderID  string

	// CountryCode is the dialing code prefixed to local phone numbers.
	CountryCode string
	// CollectionPoint names where ready stickers are picked up.
	CollectionPoint string

	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		CountryCode:     "60",
		CollectionPoint: "the licensing counter",
		Timeout:         30 * time.Second,
	}
}
