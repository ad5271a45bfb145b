package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Errorf("Provider = %s, want openai", cfg.Provider)
	}
	if !cfg.Extraction {
		t.Error("extraction should default to enabled")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".intake.yml")
	cfg := DefaultConfig()
	cfg.Provider = ProviderOllama
	cfg.Model = "llama3"
	cfg.Port = 9090
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Provider != ProviderOllama {
		t.Errorf("Provider = %s, want ollama", got.Provider)
	}
	if got.Model != "llama3" {
		t.Errorf("Model = %s, want llama3", got.Model)
	}
	if got.Port != 9090 {
		t.Errorf("Port = %d, want 9090", got.Port)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".intake.yml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	os.Setenv("INTAKE_MODEL", "gpt-4o-mini")
	os.Setenv("INTAKE_PORT", "9999")
	t.Cleanup(func() {
		os.Unsetenv("INTAKE_MODEL")
		os.Unsetenv("INTAKE_PORT")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s, want env override", cfg.Model)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want env override", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing provider", func(c *Config) { c.Provider = "" }, false},
		{"bad provider", func(c *Config) { c.Provider = "bedrock" }, false},
		{"missing model", func(c *Config) { c.Model = "" }, false},
		{"missing workflow", func(c *Config) { c.WorkflowFile = "" }, false},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, false},
		{"port zero", func(c *Config) { c.Port = 0 }, false},
		{"negative rpm", func(c *Config) { c.MaxRPM = -1 }, false},
		{"zero rpm disables limiting", func(c *Config) { c.MaxRPM = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	if got := APIKeyEnvVar(ProviderOpenAI); got != "OPENAI_API_KEY" {
		t.Errorf("APIKeyEnvVar(openai) = %q", got)
	}
	if got := APIKeyEnvVar(ProviderOllama); got != "" {
		t.Errorf("APIKeyEnvVar(ollama) = %q, want empty", got)
	}
}
