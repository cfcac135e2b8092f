package queryapplications

import "time"

type Config struct {
	Timeout      time.Duration
	MaxListLimit int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      5 * time.Second,
		MaxListLimit: 500,
	}
}
