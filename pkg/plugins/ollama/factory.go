package ollama

import (
	"fmt"

	"axon/pkg/api"
	"axon/pkg/plugin"

	jsoniter "github.com/json-iterator/go"
)

func init() {
	plugin.RegisterType("ollama", plugin.FactoryFunc(func(rawConfig jsoniter.RawMessage) (api.Plugin, error) {
		var cfg Config
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse ollama config: %w", err)
			}
		}
		return New(cfg)
	}))
}
