package telegram

import (
	"fmt"

	"axon/pkg/api"
	"axon/pkg/plugin"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	plugin.RegisterType("telegram", plugin.FactoryFunc(func(rawConfig jsoniter.RawMessage) (api.Plugin, error) {
		var cfg Config
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse telegram config: %w", err)
		}
		return New(cfg)
	}))
}
