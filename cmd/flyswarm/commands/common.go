// Package commands provides CLI command implementations.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/blackms/flyswarm-go/internal/infrastructure/config"
	"github.com/blackms/flyswarm-go/internal/infrastructure/httpapi"
	"github.com/blackms/flyswarm-go/internal/infrastructure/logging"
)

// Global flags, bound by the root command.
var (
	ConfigPath string
	ServerURL  string
	LogLevel   string
)

// LoadConfig reads the configuration file named by --config, if any, then
// applies environment overrides and validates the result.
func LoadConfig() (config.Config, error) {
	cfg := config.Default()
	if ConfigPath != "" {
		loaded, err := config.Load(ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if LogLevel != "" {
		cfg.Logging.Level = LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// NewClient returns a client for the server named by --server.
func NewClient() *httpapi.Client {
	return httpapi.NewClient(ServerURL, nil)
}

// PrintJSON writes v to stdout as indented JSON.
func PrintJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
