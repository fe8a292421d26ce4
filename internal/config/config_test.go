package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "takipus.yaml")

	t.Setenv("TAKIPUS_TEST_DSN", "file:takipus.db")

	data := "listen_addr: \":9090\"\r\n" + `db:
  driver: sqlite
  dsn: "${TAKIPUS_TEST_DSN}"
scheduler:
  interval: 30m
  timezone: UTC
  default_reminder_days: [14, 7]
push:
  enabled: true
  gateway_url: "http://core:8090/internal/send-notification"
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.DB.DSN != "file:takipus.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Scheduler.Interval != 30*time.Minute || len(cfg.Scheduler.DefaultReminderDays) != 2 {
		t.Fatalf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if cfg.Push.Timeout != 3*time.Second || cfg.Push.SourceApp != "takipus" || cfg.Push.MaxAttempts != 8 {
		t.Fatalf("expected defaults to survive partial push section: %+v", cfg.Push)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRules(t *testing.T) {
	cases := map[string]func(c *Config){
		"dsn required":      func(c *Config) { c.DB = DBConfig{Driver: "postgres"} },
		"unknown driver":    func(c *Config) { c.DB = DBConfig{Driver: "mongo", DSN: "x"} },
		"gateway required":  func(c *Config) { c.Push.Enabled = true },
		"negative offsets":  func(c *Config) { c.Scheduler.DefaultReminderDays = []int{3, -1} },
		"bad timezone":      func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"zero interval":     func(c *Config) { c.Scheduler.Interval = 0 },
		"negative attempts": func(c *Config) { c.Push.MaxAttempts = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TAKIPUS_LISTEN_ADDR", ":7000")
	t.Setenv("TAKIPUS_DB_DRIVER", "postgres")
	t.Setenv("TAKIPUS_DB_DSN", "postgres://localhost/takipus")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.ListenAddr != ":7000" || cfg.DB.Driver != "postgres" || cfg.DB.DSN != "postgres://localhost/takipus" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TAKIPUS_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TAKIPUS_DOTENV_PROBE", "")
	os.Unsetenv("TAKIPUS_DOTENV_PROBE")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if os.Getenv("TAKIPUS_DOTENV_PROBE") != "loaded" {
		t.Fatalf("expected variable from .env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
