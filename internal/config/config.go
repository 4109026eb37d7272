// Package config loads application configuration from the XDG config
// directory with viper, applying defaults suitable for a local Ollama setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Ollama OllamaConfig `mapstructure:"ollama"`
	Store  StoreConfig  `mapstructure:"store"`
	Serve  ServeConfig  `mapstructure:"serve"`
	Log    LogConfig    `mapstructure:"log"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	URL   string `mapstructure:"url"`   // Default: http://localhost:11434
	Model string `mapstructure:"model"` // Default: gpt-oss:20b
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"` // Default: true
	Path    string `mapstructure:"path"`    // Override default database path
}

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig configures logging verbosity.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	// Set defaults
	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "gpt-oss:20b")
	viper.SetDefault("store.enabled", true)
	viper.SetDefault("serve.host", "0.0.0.0")
	viper.SetDefault("serve.port", 8000)
	viper.SetDefault("log.level", "info")

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Ollama.URL = expandEnv(cfg.Ollama.URL)
	if env := os.Getenv("OLLAMA_URL"); env != "" {
		cfg.Ollama.URL = env
	}
	cfg.Store.Path = expandEnv(cfg.Store.Path)
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	return &cfg, nil
}

// ApplyOverrides applies model and store overrides from command flags.
// Empty values leave the config untouched.
func (c *Config) ApplyOverrides(model, storePath string) {
	if model != "" {
		c.Ollama.Model = model
	}
	if storePath != "" {
		c.Store.Path = storePath
	}
}

// Addr returns the host:port the HTTP server should listen on.
func (c *ServeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for my-local-ai-agent.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "my-local-ai-agent"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "my-local-ai-agent"), nil
}

// DefaultStorePath returns the XDG data location for the conversation database.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func DefaultStorePath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "my-local-ai-agent", "conversations.db")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "conversations.db") // fallback
	}
	return filepath.Join(homeDir, ".local", "share", "my-local-ai-agent", "conversations.db")
}
