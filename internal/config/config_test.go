package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/tetrixcorps/compliantivr/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := config.Default()
	if cfg.HTTPAddr != want.HTTPAddr || cfg.Store != config.StoreSQLite || cfg.NoPolicyMode != "proceed" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SessionRetentionHours != 24 || cfg.PruneIntervalMinutes != 30 {
		t.Errorf("retention = %d/%d", cfg.SessionRetentionHours, cfg.PruneIntervalMinutes)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != config.Default().DBPath {
		t.Errorf("db path = %q", cfg.DBPath)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	custom := config.Default()
	custom.HTTPAddr = ":7000"
	custom.Store = "memory"
	custom.WebhookBaseURL = "https://calls.example.org/"
	custom.NoPolicyMode = "escalate"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ivr.toml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("IVR_HTTP_ADDR", ":9999")
	t.Setenv("IVR_SESSION_RETENTION_HOURS", "not-a-number")
	t.Setenv("IVR_GRPC_ADDR", "")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("env should win over file, http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.Store != config.StoreMemory || cfg.NoPolicyMode != "escalate" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.WebhookBaseURL != "https://calls.example.org" {
		t.Errorf("trailing slash kept: %q", cfg.WebhookBaseURL)
	}
	if cfg.SessionRetentionHours != 24 {
		t.Errorf("bad int env should fall back, got %d", cfg.SessionRetentionHours)
	}
	if cfg.GRPCAddr != "" {
		t.Errorf("empty IVR_GRPC_ADDR should disable grpc, got %q", cfg.GRPCAddr)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ivr.toml")
	if err := os.WriteFile(path, []byte("http_adress = \":1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"empty addr", func(c *config.Config) { c.HTTPAddr = "" }, "http_addr"},
		{"relative base url", func(c *config.Config) { c.WebhookBaseURL = "/api" }, "webhook_base_url"},
		{"unknown store", func(c *config.Config) { c.Store = "redis" }, "store"},
		{"unknown mode", func(c *config.Config) { c.NoPolicyMode = "ignore" }, "no_policy_mode"},
		{"sqlite without path", func(c *config.Config) { c.DBPath = "" }, "db_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
	if err := config.Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestUnknownEnvFallsBackToDev(t *testing.T) {
	t.Setenv("IVR_ENV", "staging")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Env != "dev" {
		t.Errorf("env = %q", cfg.Env)
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config: %v", err)
	}
	if cfg.HTTPAddr != config.Default().HTTPAddr || cfg.LogFormat != "auto" {
		t.Errorf("sample drifted from defaults: %+v", cfg)
	}
}
