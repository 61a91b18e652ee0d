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
	if cfg.Server.HealthPort == 0 {
		cfg.Server.HealthPort = 8081
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "downloads"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "download-workers"
	}
	if cfg.Queue.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker-1"
		}
		cfg.Queue.Consumer = host
	}
	if cfg.Queue.MinIdle == 0 {
		cfg.Queue.MinIdle = Duration(30 * time.Second)
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 10
	}
	if cfg.Worker.Block == 0 {
		cfg.Worker.Block = Duration(5 * time.Second)
	}
	if cfg.Worker.MigrationsDir == "" {
		cfg.Worker.MigrationsDir = "migrations"
	}
	if cfg.Idempotency.Window == 0 {
		cfg.Idempotency.Window = Duration(10 * time.Minute)
	}
}
