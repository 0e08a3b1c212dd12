package plugin

import "axon/pkg/api"

// ResolveTools flattens the tool sets of the given provider instances into
// (a) the handler-stripped schema list sent to a Model and (b) the reverse
// index from tool name to owning instance id.
//
// Instances that are absent, disabled or lack the Tooling capability are
// skipped silently. When two providers declare the same tool name the
// later provider in providerIDs order wins both the schema slot and the
// reverse-index entry, so the model sees exactly one declaration per name
// and dispatch always matches the declaration it saw.
//
// The function is read-only and idempotent: calling it twice against the
// same registry state yields identical results.
func (r *Registry) ResolveTools(providerIDs []string) ([]api.ToolSchema, map[string]string) {
	schemas := make([]api.ToolSchema, 0)
	owners := make(map[string]string)
	slot := make(map[string]int)

	for _, id := range providerIDs {
		tooling, err := r.Tooling(id)
		if err != nil {
			continue
		}
		for _, tool := range tooling.Tools() {
			if i, seen := slot[tool.Name]; seen {
				schemas[i] = tool.Schema()
			} else {
				slot[tool.Name] = len(schemas)
				schemas = append(schemas, tool.Schema())
			}
			owners[tool.Name] = id
		}
	}

	return schemas, owners
}
