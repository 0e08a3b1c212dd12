// Package autoload registers every built-in plugin type with the catalog
// through blank imports. Importers get the full plugin set with one line.
package autoload

import (
	_ "axon/pkg/plugins/gemini"
	_ "axon/pkg/plugins/ollama"
	_ "axon/pkg/plugins/openai"
	_ "axon/pkg/plugins/shell"
	_ "axon/pkg/plugins/telegram"
	_ "axon/pkg/plugins/web"
	_ "axon/pkg/plugins/webtools"
)
