package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "stationd-config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := file.WriteString(contents); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close config: %v", err)
	}
	return file.Name()
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "listen: \":9090\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default storage backend memory, got %q", cfg.Storage.Backend)
	}
	if cfg.TickInterval != defaultTickInterval {
		t.Fatalf("expected default tick interval, got %s", cfg.TickInterval)
	}
	if cfg.Auth.RateLimit != defaultRateLimit || cfg.Auth.RateBurst != defaultRateBurst {
		t.Fatalf("expected default rate limit settings, got %+v", cfg.Auth)
	}
}

func TestLoadRejectsMissingDSNForSQLBackend(t *testing.T) {
	cfg := "listen: \":9090\"\n" +
		"storage:\n" +
		"  backend: postgres\n"
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail when postgres backend has no dsn")
	}
}

func TestLoadAcceptsSQLiteWithDSN(t *testing.T) {
	cfg := "listen: \":9090\"\n" +
		"storage:\n" +
		"  backend: sqlite\n" +
		"  dsn: \":memory:\"\n"
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Storage.DSN != ":memory:" {
		t.Fatalf("expected dsn to round-trip, got %q", loaded.Storage.DSN)
	}
}

func TestLoadRejectsTinyTickInterval(t *testing.T) {
	cfg := "listen: \":9090\"\n" +
		"tick_interval: 10ms\n"
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to reject a tick interval below 100ms")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	cfg := "listen: \":9090\"\n" +
		"storage:\n" +
		"  backend: dynamodb\n"
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to reject an unknown storage backend")
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected load to require a config path")
	}
}
