package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"` // empty disables the health server

	Env    string `toml:"env"`   // "dev" | "prod"
	Store  string `toml:"store"` // "sqlite" | "memory"
	DBPath string `toml:"db_path"`

	// Webhooks
	WebhookBaseURL   string `toml:"webhook_base_url"`
	WebhookSecret    string `toml:"webhook_secret"` // empty disables signature checks
	EscalationNumber string `toml:"escalation_number"`

	CatalogPath  string `toml:"catalog_path"`
	NoPolicyMode string `toml:"no_policy_mode"` // "proceed" | "escalate"

	// Retention
	SessionRetentionHours int `toml:"session_retention_hours"` // 0 = keep forever
	PruneIntervalMinutes  int `toml:"prune_interval_minutes"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

func Default() Config {
	return Config{
		HTTPAddr:              ":8080",
		GRPCAddr:              ":9090",
		Env:                   "dev",
		Store:                 StoreSQLite,
		DBPath:                "./data/ivr.db",
		WebhookBaseURL:        "https://ivr.example.com",
		EscalationNumber:      "+18005551234",
		NoPolicyMode:          "proceed",
		SessionRetentionHours: 24,
		PruneIntervalMinutes:  30,
		LogLevel:              "info",
		LogFormat:             "auto",
	}
}

// SampleConfig returns the commented sample configuration file.
func SampleConfig() string { return sampleConfig }

// Load builds the configuration from defaults, then the TOML file at path
// (skipped when path is empty or the file does not exist), then IVR_*
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			dec := toml.NewDecoder(file)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("IVR_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("IVR_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	c.Env = getenvDefault("IVR_ENV", c.Env)
	c.Store = getenvDefault("IVR_STORE", c.Store)
	c.DBPath = getenvDefault("IVR_DB_PATH", c.DBPath)
	c.WebhookBaseURL = getenvDefault("IVR_WEBHOOK_BASE_URL", c.WebhookBaseURL)
	c.WebhookSecret = getenvDefault("IVR_WEBHOOK_SECRET", c.WebhookSecret)
	c.EscalationNumber = getenvDefault("IVR_ESCALATION_NUMBER", c.EscalationNumber)
	c.CatalogPath = getenvDefault("IVR_CATALOG_PATH", c.CatalogPath)
	c.NoPolicyMode = getenvDefault("IVR_NO_POLICY_MODE", c.NoPolicyMode)
	c.SessionRetentionHours = getenvInt("IVR_SESSION_RETENTION_HOURS", c.SessionRetentionHours)
	c.PruneIntervalMinutes = getenvInt("IVR_PRUNE_INTERVAL_MINUTES", c.PruneIntervalMinutes)
	c.LogLevel = getenvDefault("IVR_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenvDefault("IVR_LOG_FORMAT", c.LogFormat)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.NoPolicyMode = strings.ToLower(strings.TrimSpace(c.NoPolicyMode))
	c.WebhookBaseURL = strings.TrimRight(strings.TrimSpace(c.WebhookBaseURL), "/")
	if c.PruneIntervalMinutes <= 0 {
		c.PruneIntervalMinutes = 30
	}
}

// Validate reports the first setting the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http_addr must be set")
	}
	u, err := url.Parse(c.WebhookBaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("webhook_base_url must be an absolute URL, got %q", c.WebhookBaseURL)
	}
	switch c.Store {
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("db_path must be set for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StoreSQLite, StoreMemory, c.Store)
	}
	switch c.NoPolicyMode {
	case "proceed", "escalate":
	default:
		return fmt.Errorf("no_policy_mode must be proceed or escalate, got %q", c.NoPolicyMode)
	}
	if c.SessionRetentionHours < 0 {
		return errors.New("session_retention_hours must not be negative")
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
