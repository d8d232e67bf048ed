package config

import (
	"os"
	"strings"
)

// Config holds progress-service settings beyond the shared platform config.
type Config struct {
	DatabaseURL string
	NATSURL     string
	JWTSecret   string
}

func Load() Config {
	return Config{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
	}
}
