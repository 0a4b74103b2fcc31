// Package common provides shared utilities for VaultMind
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for VaultMind
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Indexing    IndexingConfig  `toml:"indexing"`
	Watcher     WatcherConfig   `toml:"watcher"`
	Queue       QueueConfig     `toml:"queue"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the data directory root. All durable state lives
// beneath it: collections.db, jobs.db, vectors/, watcher/.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// CollectionsPath returns the collection metadata store directory.
func (c *StorageConfig) CollectionsPath() string {
	return filepath.Join(c.DataDir, "collections.db")
}

// JobsPath returns the job queue store directory.
func (c *StorageConfig) JobsPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

// VectorsPath returns the vector namespace root directory.
func (c *StorageConfig) VectorsPath() string {
	return filepath.Join(c.DataDir, "vectors")
}

// WatcherPath returns the watcher state directory.
func (c *StorageConfig) WatcherPath() string {
	return filepath.Join(c.DataDir, "watcher")
}

// EmbeddingConfig holds embedding provider configuration.
// Provider "local" needs no credentials; "gemini" requires an API key.
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	Dimension int    `toml:"dimension"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the per-call embedding deadline
func (c *EmbeddingConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// IndexingConfig holds defaults for the indexing pipeline.
type IndexingConfig struct {
	ChunkSize        int `toml:"chunk_size"`
	ChunkOverlap     int `toml:"chunk_overlap"`
	BatchSize        int `toml:"batch_size"`
	ProgressInterval int `toml:"progress_interval"` // files between progress writes
}

// WatcherConfig holds filesystem watcher defaults.
type WatcherConfig struct {
	Enabled      bool   `toml:"enabled"`
	ScanInterval string `toml:"scan_interval"`
	Debounce     string `toml:"debounce"`
}

// GetScanInterval parses and returns the periodic scan interval
func (c *WatcherConfig) GetScanInterval() time.Duration {
	d, err := time.ParseDuration(c.ScanInterval)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetDebounce parses and returns the event debounce window
func (c *WatcherConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	MaxRetries    int    `toml:"max_retries"`
	RetryBackoff  string `toml:"retry_backoff"`
	HistoryLimit  int    `toml:"history_limit"`
}

// GetMaxConcurrent returns the worker pool size, defaulting to 3.
func (c *QueueConfig) GetMaxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return 3
	}
	return c.MaxConcurrent
}

// GetRetryBackoff parses and returns the initial retry backoff
func (c *QueueConfig) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 1 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	FilePath string `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "text-embedding-004",
			Dimension: 384,
			RateLimit: 10,
			Timeout:   "60s",
		},
		Indexing: IndexingConfig{
			ChunkSize:        1000,
			ChunkOverlap:     200,
			BatchSize:        10,
			ProgressInterval: 5,
		},
		Watcher: WatcherConfig{
			Enabled:      true,
			ScanInterval: "300s",
			Debounce:     "2s",
		},
		Queue: QueueConfig{
			MaxConcurrent: 3,
			MaxRetries:    3,
			RetryBackoff:  "1s",
			HistoryLimit:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VAULTMIND_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VAULTMIND_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VAULTMIND_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VAULTMIND_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("VAULTMIND_DATA_DIR"); path != "" {
		config.Storage.DataDir = path
	}

	if provider := os.Getenv("VAULTMIND_EMBEDDING_PROVIDER"); provider != "" {
		config.Embedding.Provider = provider
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
	if key := os.Getenv("VAULTMIND_GEMINI_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
