package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"arbibot/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig loads the file, applies a non-empty symbol override and runs
// the pre-flight checks.
func LoadConfig(path string, symbols []string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if len(symbols) > 0 {
		cfg.App.Symbols = symbols
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.App.Mode == config.ModePaper && cfg.Paper.StateDir != "" {
		if err := os.MkdirAll(cfg.Paper.StateDir, 0o755); err != nil {
			return fmt.Errorf("paper state_dir %s: %w", cfg.Paper.StateDir, err)
		}
		testFile := filepath.Join(cfg.Paper.StateDir, ".write_test")
		if err := os.WriteFile(testFile, nil, 0o600); err != nil {
			return fmt.Errorf("paper state_dir %s is not writable: %w", cfg.Paper.StateDir, err)
		}
		_ = os.Remove(testFile)
	}
	return nil
}
