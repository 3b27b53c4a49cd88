package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite default backend, got %q", cfg.DBBackend)
	}
	if cfg.DriftTolerance != 1.0 {
		t.Fatalf("expected 1s drift tolerance, got %v", cfg.DriftTolerance)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadReadsAlternateKeys(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tandem")
	t.Setenv("TANDEM_DB_BACKEND", "postgres")
	t.Setenv("TANDEM_DRIFT_TOLERANCE", "0.5")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN != "postgres://localhost/tandem" {
		t.Fatalf("unexpected dsn %q", cfg.DBDSN)
	}
	if cfg.DriftTolerance != 0.5 {
		t.Fatalf("unexpected drift tolerance %v", cfg.DriftTolerance)
	}
	if cfg.NATSURL == "" {
		t.Fatal("expected NATS URL from alternate key")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"backend", "TANDEM_DB_BACKEND", "oracle"},
		{"drift", "TANDEM_DRIFT_TOLERANCE", "0"},
		{"poll", "TANDEM_POLL_INTERVAL_MS", "-5"},
		{"audio output", "TANDEM_AUDIO_OUTPUT", "alsa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadProductionRequiresJWTKeyOffLoopback(t *testing.T) {
	t.Setenv("TANDEM_ENV", "production")
	t.Setenv("TANDEM_HTTP_BIND", "0.0.0.0")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config on a public bind without a JWT key to fail")
	}

	t.Setenv("TANDEM_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config with a JWT key to load: %v", err)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "legacy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
