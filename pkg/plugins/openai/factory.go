package openai

import (
	"fmt"

	"axon/pkg/api"
	"axon/pkg/plugin"

	jsoniter "github.com/json-iterator/go"
)

func init() {
	plugin.RegisterType("openai", plugin.FactoryFunc(func(rawConfig jsoniter.RawMessage) (api.Plugin, error) {
		var cfg Config
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse openai config: %w", err)
		}
		return New(cfg)
	}))
}
