package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything read from the process environment at boot.
// Authentication and storage connection details are supplied by the
// hosting process per §6.4; this loader only validates that the required
// ones are present.
type Config struct {
	DatabaseURL     string
	RedisURL        string
	JWTSecret       string
	Port            string
	AllowedOrigins  []string
	FrontendURL     string
	CookieSecure    bool
	DefaultElo      int
	EloKFactor      int
	QueueTimeout    time.Duration
	CleanupInterval time.Duration
	MatchTimeout    time.Duration
	TestDuration    time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	defaultElo, err := strconv.Atoi(getEnv("DEFAULT_ELO", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_ELO: %w", err)
	}

	kFactor, err := strconv.Atoi(getEnv("ELO_K_FACTOR", "32"))
	if err != nil {
		return nil, fmt.Errorf("invalid ELO_K_FACTOR: %w", err)
	}

	queueTimeout, err := getEnvAsDuration("QUEUE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	matchTimeout, err := getEnvAsDuration("MATCH_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}

	testDuration, err := getEnvAsDuration("TEST_DURATION", 60*time.Second)
	if err != nil {
		return nil, err
	}

	allowedOrigins := getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:5173"}, ",")
	frontendURL := getEnv("FRONTEND_URL", "http://localhost:5173")

	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  allowedOrigins,
		FrontendURL:     frontendURL,
		CookieSecure:    getEnv("COOKIE_SECURE", "false") == "true",
		DefaultElo:      defaultElo,
		EloKFactor:      kFactor,
		QueueTimeout:    queueTimeout,
		CleanupInterval: cleanupInterval,
		MatchTimeout:    matchTimeout,
		TestDuration:    testDuration,
		ShutdownTimeout: 30 * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsSlice(name string, defaultVal []string, sep string) []string {
	valStr := getEnv(name, "")

	if valStr == "" {
		return defaultVal
	}

	return strings.Split(valStr, sep)
}

func getEnvAsDuration(name string, fallback time.Duration) (time.Duration, error) {
	valStr := getEnv(name, "")
	if valStr == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
