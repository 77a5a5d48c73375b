package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every environment variable Load consults so tests are
// insulated from the ambient shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY",
		"FINCORE_GEMINI_API_KEY",
		"FINCORE_MODEL",
		"FINCORE_POLICY_PATH",
		"FINCORE_LOG_LEVEL",
		"FINCORE_DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Name != "fincore" {
		t.Errorf("Name = %q, want fincore", cfg.Name)
	}
	if cfg.Version == "" {
		t.Error("Version should not be empty")
	}
	if cfg.Narrator.Enabled {
		t.Error("narrator should be disabled by default")
	}
	if cfg.Narrator.Provider != "gemini" {
		t.Errorf("Narrator.Provider = %q, want gemini", cfg.Narrator.Provider)
	}
	if cfg.Narrator.Model == "" {
		t.Error("Narrator.Model should not be empty")
	}
	if cfg.Engine.MaxQueryLength <= 0 {
		t.Errorf("Engine.MaxQueryLength = %d, want positive", cfg.Engine.MaxQueryLength)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := DefaultConfig()
	if cfg.Name != want.Name || cfg.Narrator.Model != want.Narrator.Model {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadParsesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `name: fincore
narrator:
  enabled: true
  provider: gemini
  api_key: test-key
  model: gemini-2.5-pro
  timeout: 30s
policy_path: /etc/fincore/policy.yaml
watch_policy: true
engine:
  request_timeout: 90s
  max_query_length: 2000
logging:
  level: debug
  debug_mode: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Narrator.Enabled {
		t.Error("Narrator.Enabled = false, want true")
	}
	if cfg.Narrator.Model != "gemini-2.5-pro" {
		t.Errorf("Narrator.Model = %q, want gemini-2.5-pro", cfg.Narrator.Model)
	}
	if cfg.PolicyPath != "/etc/fincore/policy.yaml" {
		t.Errorf("PolicyPath = %q", cfg.PolicyPath)
	}
	if !cfg.WatchPolicy {
		t.Error("WatchPolicy = false, want true")
	}
	if got := cfg.GetRequestTimeout(); got != 90*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 90s", got)
	}
	if got := cfg.GetNarratorTimeout(); got != 30*time.Second {
		t.Errorf("GetNarratorTimeout() = %v, want 30s", got)
	}
	// Fields absent from the file keep their defaults.
	if got := cfg.GetSlowThreshold(); got != 2*time.Second {
		t.Errorf("GetSlowThreshold() = %v, want 2s default", got)
	}
	if !cfg.Logging.DebugMode {
		t.Error("Logging.DebugMode = false, want true")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Narrator.Model = "gemini-2.5-pro"
	cfg.Engine.MaxQueryLength = 1234
	cfg.Logging.Categories = map[string]bool{"solver": false}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Narrator.Model != "gemini-2.5-pro" {
		t.Errorf("Narrator.Model = %q", loaded.Narrator.Model)
	}
	if loaded.Engine.MaxQueryLength != 1234 {
		t.Errorf("Engine.MaxQueryLength = %d, want 1234", loaded.Engine.MaxQueryLength)
	}
	if enabled, ok := loaded.Logging.Categories["solver"]; !ok || enabled {
		t.Errorf("Logging.Categories[solver] = %v/%v, want false/true", enabled, ok)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("FINCORE_MODEL", "gemini-2.0-flash")
	t.Setenv("FINCORE_POLICY_PATH", "/tmp/policy.yaml")
	t.Setenv("FINCORE_LOG_LEVEL", "debug")
	t.Setenv("FINCORE_DEBUG", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Narrator.APIKey != "env-key" {
		t.Errorf("Narrator.APIKey = %q, want env-key", cfg.Narrator.APIKey)
	}
	if !cfg.Narrator.Enabled {
		t.Error("API key in env should enable the narrator")
	}
	if cfg.Narrator.Model != "gemini-2.0-flash" {
		t.Errorf("Narrator.Model = %q", cfg.Narrator.Model)
	}
	if cfg.PolicyPath != "/tmp/policy.yaml" {
		t.Errorf("PolicyPath = %q", cfg.PolicyPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if !cfg.Logging.DebugMode {
		t.Error("FINCORE_DEBUG=1 should enable debug mode")
	}
}

func TestEnvKeyPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "bare-key")
	t.Setenv("FINCORE_GEMINI_API_KEY", "prefixed-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Narrator.APIKey != "prefixed-key" {
		t.Errorf("Narrator.APIKey = %q, want prefixed-key (FINCORE_ wins)", cfg.Narrator.APIKey)
	}
}

func TestTimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Narrator.Timeout = "not-a-duration"
	cfg.Engine.RequestTimeout = ""
	cfg.Engine.SlowThreshold = "bogus"

	if got := cfg.GetNarratorTimeout(); got != 45*time.Second {
		t.Errorf("GetNarratorTimeout() = %v, want 45s fallback", got)
	}
	if got := cfg.GetRequestTimeout(); got != 60*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 60s fallback", got)
	}
	if got := cfg.GetSlowThreshold(); got != 2*time.Second {
		t.Errorf("GetSlowThreshold() = %v, want 2s fallback", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "narrator enabled without key",
			mutate: func(c *Config) {
				c.Narrator.Enabled = true
				c.Narrator.APIKey = ""
			},
			wantErr: "no API key",
		},
		{
			name: "narrator with unknown provider",
			mutate: func(c *Config) {
				c.Narrator.Enabled = true
				c.Narrator.APIKey = "k"
				c.Narrator.Provider = "openai"
			},
			wantErr: "invalid narrator provider",
		},
		{
			name: "narrator without model",
			mutate: func(c *Config) {
				c.Narrator.Enabled = true
				c.Narrator.APIKey = "k"
				c.Narrator.Model = ""
			},
			wantErr: "no model",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: "invalid log level",
		},
		{
			name: "negative query length",
			mutate: func(c *Config) {
				c.Engine.MaxQueryLength = -1
			},
			wantErr: "max_query_length",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
