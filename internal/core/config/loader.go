package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.ToolServer.Mode == "" {
		cfg.ToolServer.Mode = "per-call"
	}
	if cfg.ToolServer.StopGrace == 0 {
		cfg.ToolServer.StopGrace = 5 * time.Second
	}
	if cfg.ToolServer.Debug.Enabled && cfg.ToolServer.Debug.ListenAddr == "" {
		cfg.ToolServer.Debug.ListenAddr = "127.0.0.1:2345"
	}
	if cfg.Batch.QueryLimit == 0 {
		cfg.Batch.QueryLimit = 100
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the settings a run cannot proceed without.
func (cfg *AppConfig) Validate() error {
	if cfg.ToolServer.Command == "" {
		return fmt.Errorf("tool_server.command is required")
	}
	if cfg.Vision.APIKey == "" {
		return fmt.Errorf("vision.api_key is required")
	}
	if cfg.Vision.Model == "" {
		return fmt.Errorf("vision.model is required")
	}
	return nil
}
