// Package config provides configuration loading for supportd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults filling the gaps.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/opslinelabs/supportd/internal/logging"
	"github.com/opslinelabs/supportd/internal/telemetry"
)

// Config holds the complete supportd configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Retrieval RetrievalConfig  `koanf:"retrieval"`
	Knowledge KnowledgeConfig  `koanf:"knowledge"`
	TaskStore TaskStoreConfig  `koanf:"taskstore"`
	Remedy    RemedyConfig     `koanf:"remedy"`
	Embedding EmbeddingConfig  `koanf:"embedding"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RetrievalConfig holds semantic matching configuration.
type RetrievalConfig struct {
	// Threshold is the similarity a match must strictly exceed.
	Threshold float64 `koanf:"threshold"`
	// Timeout bounds each retrieval call.
	Timeout time.Duration `koanf:"timeout"`
}

// KnowledgeConfig locates the FAQ/SOP corpus.
type KnowledgeConfig struct {
	// CorpusPath points to a corpus JSON file; empty uses the embedded
	// corpus.
	CorpusPath string `koanf:"corpus_path"`
}

// TaskStoreConfig holds task database configuration.
type TaskStoreConfig struct {
	Path    string        `koanf:"path"`
	Timeout time.Duration `koanf:"timeout"`
}

// RemedyConfig holds outbound remediation call configuration.
type RemedyConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	// MaxRetries bounds transient-fault retries per runbook step.
	MaxRetries int `koanf:"max_retries"`
	// RetryBackoff is the initial backoff between attempts.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// NewDefaultConfig returns a config populated with defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8085,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Retrieval: RetrievalConfig{
			Threshold: 0.65,
			Timeout:   10 * time.Second,
		},
		TaskStore: TaskStoreConfig{
			Path:    "data/supportd.db",
			Timeout: 10 * time.Second,
		},
		Remedy: RemedyConfig{
			Timeout:      10 * time.Second,
			MaxRetries:   2,
			RetryBackoff: 500 * time.Millisecond,
		},
		Embedding: EmbeddingConfig{
			Model:    "BAAI/bge-small-en-v1.5",
			CacheDir: "data/models",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Retrieval.Threshold <= 0 || c.Retrieval.Threshold >= 1 {
		return fmt.Errorf("retrieval.threshold must be in (0,1), got %f", c.Retrieval.Threshold)
	}
	if c.TaskStore.Path == "" {
		return errors.New("taskstore.path is required")
	}
	if c.Remedy.MaxRetries < 0 {
		return errors.New("remedy.max_retries cannot be negative")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
