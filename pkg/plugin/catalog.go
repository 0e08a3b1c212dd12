package plugin

import (
	"axon/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

// Factory builds a plugin object of one catalog type from an opaque
// configuration payload. The returned object implements api.Plugin plus
// zero or more of the capability interfaces; the registry discovers
// which ones exactly once at load time.
type Factory interface {
	Create(rawConfig jsoniter.RawMessage) (api.Plugin, error)
}

// FactoryFunc adapts a plain function to the Factory interface.
type FactoryFunc func(rawConfig jsoniter.RawMessage) (api.Plugin, error)

// Create implements Factory.
func (f FactoryFunc) Create(rawConfig jsoniter.RawMessage) (api.Plugin, error) {
	return f(rawConfig)
}

// catalog maps plugin type names (e.g. "telegram", "openai") to their
// factories. Populated during the plugin packages' init() phase.
var catalog = make(map[string]Factory)

// RegisterType adds a Factory to the global type catalog. Typically called
// from a plugin package's init().
func RegisterType(name string, factory Factory) {
	catalog[name] = factory
}

// GetFactory retrieves a registered Factory by plugin type name.
func GetFactory(name string) (Factory, bool) {
	f, ok := catalog[name]
	return f, ok
}

// Types returns the names of all registered plugin types.
func Types() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	return names
}
