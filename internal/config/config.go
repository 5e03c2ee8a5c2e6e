package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskpulse/internal/detector"
	"taskpulse/internal/observability"
)

// Config keeps runtime settings for the API server, the bot and pulsectl.
type Config struct {
	Env            string
	HTTPAddr       string
	DatabaseDriver string
	DatabaseURL    string
	AnalyticsDSN   string
	JWTSecret      string
	CORSOrigins    []string

	TelegramToken  string
	ReportInterval time.Duration
	AlertCooldown  time.Duration

	RedisAddr    string
	RedisChannel string

	RulesFile           string
	Thresholds          detector.Thresholds
	StrictInterventions bool

	Tracing observability.Config
}

// Load reads configuration from environment variables with sane defaults. JWT_SECRET is required.
func Load() (Config, error) {
	cfg, err := LoadStorage()
	if err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// LoadStorage reads the same environment but does not require server-only secrets. pulsectl uses it.
func LoadStorage() (Config, error) {
	cfg := Config{
		Env:            env("APP_ENV", "dev"),
		HTTPAddr:       env("HTTP_ADDR", ":8080"),
		DatabaseDriver: strings.ToLower(env("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:    env("DATABASE_URL", "taskpulse.db"),
		AnalyticsDSN:   env("ANALYTICS_DSN", ""),
		JWTSecret:      env("JWT_SECRET", ""),
		CORSOrigins:    splitList(env("CORS_ORIGINS", "")),
		TelegramToken:  env("TELEGRAM_TOKEN", ""),
		ReportInterval: parseHours(env("REPORT_INTERVAL_HOURS", ""), 5*time.Hour),
		AlertCooldown:  parseHours(env("ALERT_COOLDOWN_HOURS", ""), 24*time.Hour),
		RedisAddr:      env("REDIS_ADDR", ""),
		RedisChannel:   env("REDIS_CHANNEL", "alerts"),
		RulesFile:      env("RULES_FILE", ""),
		Tracing: observability.Config{
			Enabled:     parseBool(env("OTEL_ENABLED", "")),
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    parseBool(env("OTEL_EXPORTER_OTLP_INSECURE", "")),
			SampleRatio: parseFloat(env("OTEL_SAMPLER_RATIO", "")),
		},
		StrictInterventions: parseBool(env("STRICT_INTERVENTIONS", "")),
	}
	cfg.Tracing.Environment = cfg.Env

	switch cfg.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return cfg, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", cfg.DatabaseDriver)
	}

	th, err := LoadThresholds(cfg.RulesFile)
	if err != nil {
		return cfg, err
	}
	cfg.Thresholds = th
	return cfg, nil
}

// LoadThresholds reads rule thresholds from a YAML file. Keys missing from the file keep their
// defaults; an empty path returns the defaults.
func LoadThresholds(path string) (detector.Thresholds, error) {
	th := detector.DefaultThresholds()
	if path == "" {
		return th, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &th); err != nil {
		return th, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := th.Validate(); err != nil {
		return th, fmt.Errorf("rules file %s: %w", path, err)
	}
	return th, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseHours(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return def
	}
	return hours
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseFloat(raw string) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
