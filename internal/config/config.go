// Package config handles Gatehouse configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./gatehouse.yaml, ~/.config/gatehouse/gatehouse.yaml,
// /etc/gatehouse/gatehouse.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"gatehouse.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gatehouse", "gatehouse.yaml"))
	}

	paths = append(paths, "/etc/gatehouse/gatehouse.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Gatehouse configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Gemini   GeminiConfig `yaml:"gemini"`
	History  HistoryConfig `yaml:"history"`
	AuditDB  string       `yaml:"audit_db"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines the completion-service settings.
type GeminiConfig struct {
	// APIKey is required. If empty after env expansion, the
	// GEMINI_API_KEY environment variable is consulted; startup
	// fails when neither is set.
	APIKey      string `yaml:"api_key"`
	TextModel   string `yaml:"text_model"`
	VisionModel string `yaml:"vision_model"`
}

// HistoryConfig defines the conversation history store settings.
type HistoryConfig struct {
	// File is the path of the persisted JSON history array.
	File string `yaml:"file"`
	// MaxTurns caps the number of retained entries. The store trims
	// to the newest MaxTurns entries after every append.
	MaxTurns int `yaml:"max_turns"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	return cfg, nil
}

// Validate checks the loaded configuration for fatal problems.
// A missing API key is the only unrecoverable one: every turn needs
// the completion service, so refusing to start beats failing every
// request at runtime.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required (set it in the config file or via GEMINI_API_KEY)")
	}
	if c.History.MaxTurns <= 0 {
		return fmt.Errorf("history.max_turns must be positive, got %d", c.History.MaxTurns)
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Gemini: GeminiConfig{
			TextModel:   "gemini-1.5-flash",
			VisionModel: "gemini-1.5-flash",
		},
		History: HistoryConfig{
			File:     "history.json",
			MaxTurns: 10,
		},
		AuditDB: "audit.db",
	}
}
