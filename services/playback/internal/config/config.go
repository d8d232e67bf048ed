package config

import (
	"os"
	"strconv"
)

// Config is the playback service's own environment surface, on top of the
// shared platform config.
type Config struct {
	ProgressBaseURL   string // progress service, e.g. http://progress:8080
	ContentBaseURL    string // content metadata + signed delivery endpoint
	RedisDSN          string // duration cache; empty falls back to in-process
	NATSURL           string
	JWTSecret         string
	MediaSignSecret   string
	QuizPassThreshold int // score percent required to pass, default 70
}

func Load() Config {
	return Config{
		ProgressBaseURL:   getEnv("PROGRESS_BASE_URL", "http://localhost:8081"),
		ContentBaseURL:    getEnv("CONTENT_BASE_URL", "http://localhost:8082"),
		RedisDSN:          os.Getenv("REDIS_URL"),
		NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		MediaSignSecret:   getEnv("MEDIA_SIGN_SECRET", "dev-sign-secret"),
		QuizPassThreshold: getEnvInt("QUIZ_PASS_THRESHOLD", 0),
	}
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
