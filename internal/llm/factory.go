package llm

import (
	"fmt"

	"github.com/maloferriol/my-local-ai-agent/internal/config"
)

// NewProvider creates the LLM provider described by the config.
// Ollama is the only backend; the factory exists so commands stay
// decoupled from the concrete provider constructor.
func NewProvider(cfg *config.Config) (Provider, error) {
	if cfg.Ollama.URL == "" {
		return nil, fmt.Errorf("ollama.url is not configured")
	}
	return NewOllamaProvider(cfg.Ollama.URL), nil
}
