// Package config provides configuration loading for dreamd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with hardcoded defaults for everything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates configuration that cannot produce a working
// daemon. Startup treats it as fatal.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete dreamd configuration.
type Config struct {
	Logging       LoggingConfig       `koanf:"logging"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Storage       StorageConfig       `koanf:"storage"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	LLM           LLMConfig           `koanf:"llm"`
	Sandbox       SandboxConfig       `koanf:"sandbox"`
	Consolidation ConsolidationConfig `koanf:"consolidation"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus exposition endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// StorageConfig holds the JSONL journals backing the two memory tiers.
type StorageConfig struct {
	EpisodesJournal string `koanf:"episodes_journal"`
	RulesJournal    string `koanf:"rules_journal"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider   string        `koanf:"provider"`
	VectorSize int           `koanf:"vector_size"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded vector store settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds external vector store settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// LLMConfig holds the text-generation collaborator settings.
type LLMConfig struct {
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	Model             string        `koanf:"model"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
}

// SandboxConfig holds the sandboxed execution settings.
type SandboxConfig struct {
	Command []string      `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
	Dir     string        `koanf:"dir"`
}

// ConsolidationConfig holds the consolidation pass settings.
type ConsolidationConfig struct {
	Eps             float64       `koanf:"eps"`
	MinPts          int           `koanf:"min_pts"`
	BatchLimit      int           `koanf:"batch_limit"`
	Scenarios       int           `koanf:"scenarios"`
	AcceptThreshold float64       `koanf:"accept_threshold"`
	MaxRetries      int           `koanf:"max_retries"`
	Concurrency     int           `koanf:"concurrency"`
	Interval        time.Duration `koanf:"interval"`
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	RuleK    int `koanf:"rule_k"`
	EpisodeK int `koanf:"episode_k"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9091",
		},
		Storage: StorageConfig{
			EpisodesJournal: "~/.config/dreamd/episodes.jsonl",
			RulesJournal:    "~/.config/dreamd/rules.jsonl",
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			VectorSize: 384,
			Chromem: ChromemConfig{
				Path:     "~/.config/dreamd/vectorstore",
				Compress: true,
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		LLM: LLMConfig{
			BaseURL:           "http://localhost:8080/v1",
			Model:             "local-model",
			RequestTimeout:    60 * time.Second,
			RequestsPerMinute: 30,
		},
		Sandbox: SandboxConfig{
			Command: []string{"sh", "-c"},
			Timeout: 30 * time.Second,
		},
		Consolidation: ConsolidationConfig{
			Eps:             0.3,
			MinPts:          2,
			BatchLimit:      200,
			Scenarios:       5,
			AcceptThreshold: 0.8,
			MaxRetries:      3,
			Concurrency:     2,
			Interval:        time.Hour,
		},
		Retrieval: RetrievalConfig{
			RuleK:    3,
			EpisodeK: 5,
		},
	}
}

// applyDefaults fills missing fields from Default.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = def.Metrics.Addr
	}
	if cfg.Storage.EpisodesJournal == "" {
		cfg.Storage.EpisodesJournal = def.Storage.EpisodesJournal
	}
	if cfg.Storage.RulesJournal == "" {
		cfg.Storage.RulesJournal = def.Storage.RulesJournal
	}
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = def.VectorStore.Provider
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = def.VectorStore.VectorSize
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = def.VectorStore.Chromem.Path
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = def.VectorStore.Qdrant.Host
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = def.VectorStore.Qdrant.Port
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = def.LLM.BaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = def.LLM.RequestTimeout
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = def.LLM.RequestsPerMinute
	}
	if len(cfg.Sandbox.Command) == 0 {
		cfg.Sandbox.Command = def.Sandbox.Command
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = def.Sandbox.Timeout
	}
	if cfg.Consolidation.Eps == 0 {
		cfg.Consolidation.Eps = def.Consolidation.Eps
	}
	if cfg.Consolidation.MinPts == 0 {
		cfg.Consolidation.MinPts = def.Consolidation.MinPts
	}
	if cfg.Consolidation.BatchLimit == 0 {
		cfg.Consolidation.BatchLimit = def.Consolidation.BatchLimit
	}
	if cfg.Consolidation.Scenarios == 0 {
		cfg.Consolidation.Scenarios = def.Consolidation.Scenarios
	}
	if cfg.Consolidation.AcceptThreshold == 0 {
		cfg.Consolidation.AcceptThreshold = def.Consolidation.AcceptThreshold
	}
	if cfg.Consolidation.MaxRetries == 0 {
		cfg.Consolidation.MaxRetries = def.Consolidation.MaxRetries
	}
	if cfg.Consolidation.Concurrency == 0 {
		cfg.Consolidation.Concurrency = def.Consolidation.Concurrency
	}
	if cfg.Consolidation.Interval == 0 {
		cfg.Consolidation.Interval = def.Consolidation.Interval
	}
	if cfg.Retrieval.RuleK == 0 {
		cfg.Retrieval.RuleK = def.Retrieval.RuleK
	}
	if cfg.Retrieval.EpisodeK == 0 {
		cfg.Retrieval.EpisodeK = def.Retrieval.EpisodeK
	}
}

// Validate checks the configuration for values the daemon cannot run
// with. Invalid clustering or verification parameters are fatal at
// startup, not at pass time.
func (c *Config) Validate() error {
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("%w: vector_size must be positive, got %d", ErrInvalidConfig, c.VectorStore.VectorSize)
	}
	if c.Consolidation.Eps <= 0 {
		return fmt.Errorf("%w: consolidation.eps must be positive, got %f", ErrInvalidConfig, c.Consolidation.Eps)
	}
	if c.Consolidation.MinPts < 1 {
		return fmt.Errorf("%w: consolidation.min_pts must be at least 1, got %d", ErrInvalidConfig, c.Consolidation.MinPts)
	}
	if c.Consolidation.AcceptThreshold <= 0 || c.Consolidation.AcceptThreshold > 1 {
		return fmt.Errorf("%w: consolidation.accept_threshold must be in (0, 1], got %f", ErrInvalidConfig, c.Consolidation.AcceptThreshold)
	}
	if c.Consolidation.Scenarios < 2 {
		return fmt.Errorf("%w: consolidation.scenarios must be at least 2, got %d", ErrInvalidConfig, c.Consolidation.Scenarios)
	}
	if c.Consolidation.Concurrency < 1 {
		return fmt.Errorf("%w: consolidation.concurrency must be at least 1, got %d", ErrInvalidConfig, c.Consolidation.Concurrency)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("%w: llm.base_url is required", ErrInvalidConfig)
	}
	return nil
}
