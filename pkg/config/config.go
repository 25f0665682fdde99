package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server is the cascade server configuration, loadable from a YAML file.
// Flags override file values; zero values fall back to defaults.
type Server struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds the record store and blob directory.
	DataDir string `yaml:"data_dir"`

	// BasePath is the URL prefix for task endpoints.
	BasePath string `yaml:"base_path"`

	// QueueName names the default task queue.
	QueueName string `yaml:"queue_name"`

	// InlineSizeBytes is the payload size past which values are
	// offloaded to the blob store.
	InlineSizeBytes int `yaml:"inline_size_bytes"`

	// NotifyBatchSize bounds barrier-index rows per output task.
	NotifyBatchSize int `yaml:"notify_batch_size"`

	// AbortBatchSize bounds pipelines per abort sweep task.
	AbortBatchSize int `yaml:"abort_batch_size"`

	// Queue delivery tuning.
	QueueWorkers      int           `yaml:"queue_workers"`
	QueueMaxRetries   int           `yaml:"queue_max_retries"`
	QueueRetryBackoff time.Duration `yaml:"queue_retry_backoff"`

	// Retry defaults for stages that do not override them.
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffSeconds float64 `yaml:"backoff_seconds"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
}

// Default returns the built-in server configuration.
func Default() *Server {
	return &Server{
		ListenAddr: ":8018",
		DataDir:    "/var/lib/cascade",
		BasePath:   "/_ah/pipeline",
		QueueName:  "default",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Server, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Server) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.InlineSizeBytes < 0 {
		return fmt.Errorf("inline_size_bytes must not be negative")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}
