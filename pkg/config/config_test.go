package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"axon/pkg/api"
)

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Assistants: []api.AssistantConfig{
				{ID: "asst-1", LLMProviderID: "prov-1", LLMModel: "m"},
			},
			Bindings: map[string]string{"chan-1": "asst-1"},
			Automations: []api.Automation{
				{ID: "auto-1", Cron: "@daily", AssistantID: "asst-1", DeliveryChannelID: "chan-1", DeliveryChatID: "42"},
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "assistant without id",
			mutate:  func(c *Config) { c.Assistants[0].ID = "" },
			wantErr: "has no id",
		},
		{
			name: "duplicate assistant id",
			mutate: func(c *Config) {
				c.Assistants = append(c.Assistants, c.Assistants[0])
			},
			wantErr: "duplicate assistant id",
		},
		{
			name:    "binding to unknown assistant",
			mutate:  func(c *Config) { c.Bindings["chan-1"] = "ghost" },
			wantErr: "unknown assistant",
		},
		{
			name:    "automation without id",
			mutate:  func(c *Config) { c.Automations[0].ID = "" },
			wantErr: "has no id",
		},
		{
			name:    "automation to unknown assistant",
			mutate:  func(c *Config) { c.Automations[0].AssistantID = "ghost" },
			wantErr: "unknown assistant",
		},
		{
			name:    "automation without delivery target",
			mutate:  func(c *Config) { c.Automations[0].DeliveryChatID = "" },
			wantErr: "no delivery target",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestInstanceConfigIsEnabled(t *testing.T) {
	ic := InstanceConfig{}
	if !ic.IsEnabled() {
		t.Fatal("omitted flag must default to enabled")
	}
	f := false
	ic.Enabled = &f
	if ic.IsEnabled() {
		t.Fatal("explicit false must disable")
	}
}

func TestLoadSystemConfigFallsBackToDefaults(t *testing.T) {
	got := LoadSystemConfig(filepath.Join(t.TempDir(), "missing.json"))
	want := DefaultSystemConfig()
	if *got != *want {
		t.Fatalf("missing file: got %+v, want %+v", got, want)
	}

	corrupt := filepath.Join(t.TempDir(), "system.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got = LoadSystemConfig(corrupt)
	if *got != *want {
		t.Fatalf("corrupt file: got %+v, want %+v", got, want)
	}
}

func TestLoadSystemConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.json")
	if err := os.WriteFile(path, []byte(`{"max_iterations": 4, "log_level": "debug"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got := LoadSystemConfig(path)
	if got.MaxIterations != 4 || got.LogLevel != "debug" {
		t.Fatalf("overrides lost: %+v", got)
	}
	// Unset fields keep their defaults.
	if got.ContextWindow != 30 || got.TypingIntervalMs != 8000 {
		t.Fatalf("defaults lost: %+v", got)
	}
}
