// Package config centralises configuration parsing for the kiosk and the dev server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at an optional YAML overlay file.
const FileEnv = "ATTENDANCE_CONFIG_FILE"

// Config captures runtime configuration values for the attendance kiosk.
type Config struct {
	APIBaseURL       string
	APITimeout       time.Duration
	CredentialDBPath string
	LocationTimeout  time.Duration
	LocationMaxAge   time.Duration
	RefreshMargin    time.Duration
	MetricsAddress   string
	KafkaBrokers     []string
	EventsTopic      string
	SimLatitude      float64
	SimLongitude     float64
	SimAccuracy      float64
	SimSubject       bool // Initial subject-in-frame signal of the simulated detector.
}

// ServerConfig captures runtime configuration values for the reference backend.
type ServerConfig struct {
	HTTPAddress        string
	APIPrefix          string
	PostgresURL        string
	JWTSecret          string
	JWTIssuer          string
	AccessTokenTTL     time.Duration
	LoginRatePerMinute int
	LoginBurst         int
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
func Load() (Config, error) {
	if err := applyFile(os.Getenv(FileEnv)); err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIBaseURL:       strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080/api"), "/"),
		APITimeout:       getDurationEnv("API_TIMEOUT", 10*time.Second),
		CredentialDBPath: getEnv("CREDENTIAL_DB_PATH", "attendance-kiosk.db"),
		LocationTimeout:  getDurationEnv("LOCATION_TIMEOUT", 15*time.Second),
		LocationMaxAge:   getDurationEnv("LOCATION_MAX_AGE", time.Minute),
		RefreshMargin:    getDurationEnv("REFRESH_MARGIN", 2*time.Minute),
		MetricsAddress:   getEnv("METRICS_ADDRESS", ":9196"),
		KafkaBrokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		EventsTopic:      getEnv("EVENTS_TOPIC", "attendance_events"),
		SimLatitude:      getFloatEnv("SIM_LATITUDE", 40.7128),
		SimLongitude:     getFloatEnv("SIM_LONGITUDE", -74.0060),
		SimAccuracy:      getFloatEnv("SIM_ACCURACY", 12),
		SimSubject:       getBoolEnv("SIM_SUBJECT_PRESENT", true),
	}
	return cfg, nil
}

// LoadServer reads environment variables into ServerConfig.
func LoadServer() (ServerConfig, error) {
	if err := applyFile(os.Getenv(FileEnv)); err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		APIPrefix:          strings.TrimRight(getEnv("API_PREFIX", "/api"), "/"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnv("JWT_ISSUER", "attendance.devserver"),
		AccessTokenTTL:     getDurationEnv("ACCESS_TOKEN_TTL", time.Hour),
		LoginRatePerMinute: getIntEnv("LOGIN_RATE_PER_MINUTE", 10),
		LoginBurst:         getIntEnv("LOGIN_BURST", 5),
	}, nil
}

// applyFile exports the keys of a flat YAML document as environment variables
// unless the environment already defines them.
func applyFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	values := make(map[string]any)
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for key, value := range values {
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, flatten(value)); err != nil {
			return err
		}
	}
	return nil
}

func flatten(value any) string {
	switch v := value.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
