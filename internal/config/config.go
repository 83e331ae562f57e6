// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits with an error.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the missions service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// ApplyJobsTarget is the apply_jobs mission target count.
	ApplyJobsTarget int

	// RolloverIntervalMinutes is how often the day-rollover cron checks
	// live sessions for a calendar-day change.
	RolloverIntervalMinutes int

	// Interview-prep milestone thresholds.
	SkillsRatedFraction  float64
	MinQuestionsReviewed int
	MinResourcesReviewed int
	MinChatTurns         int
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("MISSIONS_PORT")
	if port == "" {
		port = "8083"
	}

	cfg := &Config{
		Port:                    port,
		DatabaseURL:             dbURL,
		RedisURL:                redisURL,
		ApplyJobsTarget:         3,
		RolloverIntervalMinutes: 15,
		SkillsRatedFraction:     0.8,
		MinQuestionsReviewed:    3,
		MinResourcesReviewed:    2,
		MinChatTurns:            2,
	}

	var err error
	if cfg.ApplyJobsTarget, err = intEnv("APPLY_JOBS_TARGET", cfg.ApplyJobsTarget); err != nil {
		return nil, err
	}
	if cfg.RolloverIntervalMinutes, err = intEnv("ROLLOVER_INTERVAL_MINUTES", cfg.RolloverIntervalMinutes); err != nil {
		return nil, err
	}
	if cfg.MinQuestionsReviewed, err = intEnv("MIN_QUESTIONS_REVIEWED", cfg.MinQuestionsReviewed); err != nil {
		return nil, err
	}
	if cfg.MinResourcesReviewed, err = intEnv("MIN_RESOURCES_REVIEWED", cfg.MinResourcesReviewed); err != nil {
		return nil, err
	}
	if cfg.MinChatTurns, err = intEnv("MIN_CHAT_TURNS", cfg.MinChatTurns); err != nil {
		return nil, err
	}

	if s := os.Getenv("SKILLS_RATED_FRACTION"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v > 1 {
			return nil, fmt.Errorf("SKILLS_RATED_FRACTION must be in (0, 1], got %q", s)
		}
		cfg.SkillsRatedFraction = v
	}

	return cfg, nil
}

// intEnv reads a positive integer variable, keeping fallback when unset.
func intEnv(name string, fallback int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}
