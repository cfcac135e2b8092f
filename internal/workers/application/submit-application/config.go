package submitapplication

import "time"

type Config struct {
	Timeout        time.Duration
	IdempotencyTTL time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout:        10 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
	}
}
