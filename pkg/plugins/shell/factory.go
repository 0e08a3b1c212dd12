package shell

import (
	"fmt"

	"axon/pkg/api"
	"axon/pkg/plugin"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	plugin.RegisterType("shell", plugin.FactoryFunc(func(rawConfig jsoniter.RawMessage) (api.Plugin, error) {
		var cfg Config
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse shell config: %w", err)
			}
		}
		return New(cfg), nil
	}))
}
