package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	DB         DBConfig        `yaml:"db"`
	Log        LogConfig       `yaml:"log"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Push       PushConfig      `yaml:"push"`
	Directory  DirectoryConfig `yaml:"directory"`
	Auth       AuthConfig      `yaml:"auth"`
}

type DBConfig struct {
	// Driver is memory, sqlite or postgres. Empty means memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SchedulerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval"`
	Timezone            string        `yaml:"timezone"`
	DefaultReminderDays []int         `yaml:"default_reminder_days"`
}

type PushConfig struct {
	Enabled      bool          `yaml:"enabled"`
	GatewayURL   string        `yaml:"gateway_url"`
	SourceApp    string        `yaml:"source_app"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type DirectoryConfig struct {
	BaseURL  string        `yaml:"base_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	// Token, when set, must be presented as a bearer token on every API call.
	Token string `yaml:"token"`
}

// Default is the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DB:         DBConfig{Driver: "memory"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			Interval:            time.Hour,
			Timezone:            "UTC",
			DefaultReminderDays: []int{7, 3, 1},
		},
		Push: PushConfig{
			SourceApp:    "takipus",
			Timeout:      5 * time.Second,
			PollInterval: 2 * time.Second,
			BatchSize:    50,
			MaxAttempts:  8,
		},
		Directory: DirectoryConfig{CacheTTL: 10 * time.Minute, Timeout: 5 * time.Second},
	}
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads path on top of Default. ${VAR} references are expanded from
// the environment before parsing.
func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides selected fields from TAKIPUS_* variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("TAKIPUS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TAKIPUS_DB_DRIVER"); v != "" {
		c.DB.Driver = v
	}
	if v := os.Getenv("TAKIPUS_DB_DSN"); v != "" {
		c.DB.DSN = v
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch strings.ToLower(c.DB.Driver) {
	case "", "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql", "pg":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver=%s", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}

	if c.Push.Enabled && c.Push.GatewayURL == "" {
		return fmt.Errorf("push.gateway_url is required when push.enabled=true")
	}
	if c.Push.MaxAttempts < 0 || c.Push.BatchSize < 0 {
		return fmt.Errorf("push.max_attempts and push.batch_size must not be negative")
	}

	for _, d := range c.Scheduler.DefaultReminderDays {
		if d < 0 {
			return fmt.Errorf("scheduler.default_reminder_days must not contain negative values")
		}
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when scheduler.enabled=true")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}

// Location resolves scheduler.timezone; empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}
