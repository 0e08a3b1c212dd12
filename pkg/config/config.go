package config

import (
	"fmt"
	"os"

	"axon/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

// InstanceConfig describes one plugin instance to create at startup.
// The Config payload is kept raw and handed to the plugin factory
// untouched, so each plugin type defines its own schema.
type InstanceConfig struct {
	// ID is the stable instance identifier. When empty, one is generated.
	ID string `json:"id"`
	// Type selects the registered plugin factory (e.g. "telegram", "openai").
	Type string `json:"type"`
	// DisplayName is a human-readable label shown in listings.
	DisplayName string `json:"display_name"`
	// Enabled controls whether the instance participates in routing.
	// Instances default to enabled when the field is omitted.
	Enabled *bool `json:"enabled,omitempty"`
	// Config is the plugin-specific configuration payload.
	Config jsoniter.RawMessage `json:"config"`
}

// IsEnabled resolves the optional Enabled flag with its default.
func (ic *InstanceConfig) IsEnabled() bool {
	return ic.Enabled == nil || *ic.Enabled
}

// Config defines the application configuration loaded from config.json.
// It holds the declarative state of the engine: which plugin instances
// to run, which assistants exist, how channels bind to assistants and
// which automations are scheduled.
type Config struct {
	// Instances lists the plugin instances to create at startup.
	Instances []InstanceConfig `json:"instances"`
	// Assistants lists the assistant profiles.
	Assistants []api.AssistantConfig `json:"assistants"`
	// Bindings maps channel instance IDs to the assistant serving them.
	Bindings map[string]string `json:"bindings"`
	// Automations lists scheduled prompt runs.
	Automations []api.Automation `json:"automations"`
	// HTTPAddr is the listen address of the management API (e.g. ":8090").
	// Empty disables the HTTP surface.
	HTTPAddr string `json:"http_addr"`
	// StorePath is the SQLite database path. Empty selects the in-memory store.
	StorePath string `json:"store_path"`
}

// Validate ensures the configuration is internally consistent before
// the engine proceeds to initialization.
func (c *Config) Validate() error {
	assistants := make(map[string]bool, len(c.Assistants))
	for _, a := range c.Assistants {
		if a.ID == "" {
			return fmt.Errorf("assistant %q has no id", a.Name)
		}
		if assistants[a.ID] {
			return fmt.Errorf("duplicate assistant id %q", a.ID)
		}
		assistants[a.ID] = true
	}

	for channelID, assistantID := range c.Bindings {
		if !assistants[assistantID] {
			return fmt.Errorf("binding for channel %q references unknown assistant %q", channelID, assistantID)
		}
	}

	for _, auto := range c.Automations {
		if auto.ID == "" {
			return fmt.Errorf("automation %q has no id", auto.Name)
		}
		if !assistants[auto.AssistantID] {
			return fmt.Errorf("automation %q references unknown assistant %q", auto.ID, auto.AssistantID)
		}
		if auto.DeliveryChannelID == "" || auto.DeliveryChatID == "" {
			return fmt.Errorf("automation %q has no delivery target", auto.ID)
		}
	}

	return nil
}

// SystemConfig defines engine-level technical parameters. These settings
// are stored in system.json and control timing, bounds and log output
// rather than business behavior.
type SystemConfig struct {
	// MaxIterations bounds the tool-calling rounds in one agentic run.
	MaxIterations int `json:"max_iterations"`
	// LLMTimeoutMs is the hard cutoff (in milliseconds) for one model request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// TypingIntervalMs is the refresh period for channel typing indicators.
	TypingIntervalMs int `json:"typing_interval_ms"`
	// ContextWindow is the number of recent messages kept per conversation.
	ContextWindow int `json:"context_window"`
	// ContextTTLMin expires idle conversation context after this many minutes.
	ContextTTLMin int `json:"context_ttl_min"`
	// MaxExecutions caps each automation's stored run history.
	MaxExecutions int `json:"max_executions"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns a SystemConfig initialized with safe
// defaults. It is used as a fallback when system.json is missing or
// corrupt, so the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxIterations:    10,
		LLMTimeoutMs:     600000,
		TypingIntervalMs: 8000,
		ContextWindow:    30,
		ContextTTLMin:    30,
		MaxExecutions:    10,
		LogLevel:         "info",
	}
}

// Load reads and parses the JSON configuration files from the current
// working directory. config.json is mandatory; system.json falls back
// to defaults when absent or unparsable.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}
