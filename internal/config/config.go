/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Audio output selection.
const (
	AudioOutputSpeaker = "speaker"
	AudioOutputNone    = "none" // Decode and mix without a sound card
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	ProfileID   string // Listener profile the local player acts for

	CatalogFile string // YAML catalog imported at startup when set
	MediaRoot   string // Offline downloads land here as <id>.mp3
	AssetRoot   string // Base directory for asset:// sources

	// Playback
	DriftTolerance  float64       // Seconds of secondary drift tolerated before a reseek
	PollInterval    time.Duration // Primary engine progress poll interval
	AudioOutput     string
	AudioSampleRate int
	AudioBufferSize time.Duration

	JWTSigningKey string // Empty disables API authentication

	// S3 Object Storage configuration for s3:// sources
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis position cache
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS remote control bridge
	NATSURL           string // Empty disables the bridge
	NATSSubjectPrefix string
	NATSToken         string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"TANDEM_ENV", "APP_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"TANDEM_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort:    getEnvIntAny([]string{"TANDEM_HTTP_PORT", "PORT"}, 8080),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"TANDEM_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"TANDEM_DB_DSN", "DATABASE_URL"}, "tandem.db"),
		ProfileID:   getEnvAny([]string{"TANDEM_PROFILE_ID"}, "default"),

		CatalogFile: getEnvAny([]string{"TANDEM_CATALOG_FILE"}, ""),
		MediaRoot:   getEnvAny([]string{"TANDEM_MEDIA_ROOT"}, "./media"),
		AssetRoot:   getEnvAny([]string{"TANDEM_ASSET_ROOT"}, "./assets"),

		DriftTolerance:  getEnvFloatAny([]string{"TANDEM_DRIFT_TOLERANCE"}, 1.0),
		PollInterval:    time.Duration(getEnvIntAny([]string{"TANDEM_POLL_INTERVAL_MS"}, 250)) * time.Millisecond,
		AudioOutput:     getEnvAny([]string{"TANDEM_AUDIO_OUTPUT"}, AudioOutputSpeaker),
		AudioSampleRate: getEnvIntAny([]string{"TANDEM_AUDIO_SAMPLE_RATE"}, 44100),
		AudioBufferSize: time.Duration(getEnvIntAny([]string{"TANDEM_AUDIO_BUFFER_MS"}, 100)) * time.Millisecond,

		JWTSigningKey: getEnvAny([]string{"TANDEM_JWT_SIGNING_KEY"}, ""),

		S3AccessKeyID:     getEnvAny([]string{"TANDEM_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"TANDEM_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"TANDEM_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"TANDEM_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"TANDEM_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    getEnvBoolAny([]string{"TANDEM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TANDEM_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TANDEM_TRACING_SAMPLE_RATE"}, 1.0),

		RedisEnabled:  getEnvBoolAny([]string{"TANDEM_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"TANDEM_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"TANDEM_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"TANDEM_REDIS_DB"}, 0),

		NATSURL:           getEnvAny([]string{"TANDEM_NATS_URL", "NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"TANDEM_NATS_SUBJECT_PREFIX"}, "tandem"),
		NATSToken:         getEnvAny([]string{"TANDEM_NATS_TOKEN"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("TANDEM_DB_DSN must be provided")
	}

	if cfg.DriftTolerance <= 0 {
		return nil, fmt.Errorf("TANDEM_DRIFT_TOLERANCE must be positive, got %v", cfg.DriftTolerance)
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("TANDEM_POLL_INTERVAL_MS must be positive")
	}

	if cfg.AudioOutput != AudioOutputSpeaker && cfg.AudioOutput != AudioOutputNone {
		return nil, fmt.Errorf("unsupported audio output %q", cfg.AudioOutput)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" && cfg.HTTPBind != "127.0.0.1" {
		return nil, fmt.Errorf("TANDEM_JWT_SIGNING_KEY must be provided when the API listens beyond loopback in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"PANNING_DRIFT_TOLERANCE": "use TANDEM_DRIFT_TOLERANCE",
		"MEDIA_ROOT":              "use TANDEM_MEDIA_ROOT",
		"JWT_SIGNING_KEY":         "use TANDEM_JWT_SIGNING_KEY",
		"TRACING_ENABLED":         "use TANDEM_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
