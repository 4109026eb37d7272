package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maloferriol/my-local-ai-agent/internal/agent"
	"github.com/maloferriol/my-local-ai-agent/internal/config"
	"github.com/maloferriol/my-local-ai-agent/internal/conversation"
	"github.com/maloferriol/my-local-ai-agent/internal/llm"
	"github.com/maloferriol/my-local-ai-agent/internal/tools"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "my-local-ai-agent",
	Short: "Chat with a local Ollama model that can call tools",
	Long: `my-local-ai-agent runs an agent loop against a local Ollama server.
The model can request tool calls between turns; results feed the next turn.

Examples:
  my-local-ai-agent chat "what's the weather in Paris?"
  my-local-ai-agent chat --conversation 3 "and in Lyon?"
  my-local-ai-agent serve --port 8000
  my-local-ai-agent conversations`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the configured level. The
// --verbose flag forces debug regardless of config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured conversation store. Persistence can be
// switched off entirely, in which case conversations live only for the
// duration of the request.
func openStore(cfg *config.Config) (conversation.Store, error) {
	if !cfg.Store.Enabled {
		return conversation.NewNoopStore(), nil
	}
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return conversation.NewSQLiteStore(cfg.Store.Path)
}

// newEngine wires the provider, the default tool set, and the logger into
// an engine ready to run conversations.
func newEngine(cfg *config.Config, logger *slog.Logger) (*agent.Engine, error) {
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	registry := tools.NewRegistry()
	tools.RegisterDefaults(registry)
	return agent.NewEngine(provider, registry, agent.Options{Logger: logger}), nil
}

// capabilitiesFor resolves the model's capabilities from the manifest.
func capabilitiesFor(model string) (agent.ModelCapabilities, error) {
	caps, err := config.LoadCapabilities()
	if err != nil {
		return agent.ModelCapabilities{}, err
	}
	c := caps.Lookup(model)
	return agent.ModelCapabilities{Tools: c.Tools, Thinking: c.Thinking}, nil
}
