// Package config provides configuration loading and structs for the guidechat server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/guidechat/internal/search"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Redis     RedisConfig     `yaml:"redis"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	// RequestTimeout bounds non-streaming requests. Chat streams are bounded by the LLM timeout.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the relational store for guides, blocks and conversation turns.
type StorageConfig struct {
	Driver       string `yaml:"driver"` // sqlite or postgres
	DatabasePath string `yaml:"database_path"`
	DSNEnv       string `yaml:"dsn_env"`
	MaxConns     int32  `yaml:"max_conns"`
}

// DSN returns the Postgres connection string from the environment.
func (s StorageConfig) DSN() string {
	return os.Getenv(s.DSNEnv)
}

// VectorConfig selects the embedding store.
type VectorConfig struct {
	Type         string `yaml:"type"` // memory, sqlite or postgres
	SnapshotPath string `yaml:"snapshot_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // openai or mock
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
}

// APIKey returns the provider key from the environment.
func (e EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai or mock
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// APIKey returns the provider key from the environment.
func (l LLMConfig) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}

// RetrievalConfig holds hybrid retrieval limits and fusion constants.
type RetrievalConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	Scoring      ScoringConfig `yaml:"scoring"`
}

// ScoringConfig overrides individual fusion constants. Unset fields keep their defaults.
type ScoringConfig struct {
	KeywordBonus    *float64 `yaml:"keyword_bonus,omitempty"`
	KeywordWeight   *float64 `yaml:"keyword_weight,omitempty"`
	NoKeywordFactor *float64 `yaml:"no_keyword_factor,omitempty"`
	MinScore        *float64 `yaml:"min_score,omitempty"`
}

// Policy returns the default scoring policy with any configured overrides applied.
func (s ScoringConfig) Policy() search.ScoringPolicy {
	p := search.DefaultScoringPolicy()
	if s.KeywordBonus != nil {
		p.KeywordBonus = *s.KeywordBonus
	}
	if s.KeywordWeight != nil {
		p.KeywordWeight = *s.KeywordWeight
	}
	if s.NoKeywordFactor != nil {
		p.NoKeywordFactor = *s.NoKeywordFactor
	}
	if s.MinScore != nil {
		p.MinScore = *s.MinScore
	}
	return p
}

// ChatConfig holds chat limits and session locking.
type ChatConfig struct {
	MaxMessageLength int           `yaml:"max_message_length"`
	HistoryLimit     int           `yaml:"history_limit"`
	ContextLimit     int           `yaml:"context_limit"`
	SessionLock      string        `yaml:"session_lock"`     // none, memory or redis
	SessionLockTTL   time.Duration `yaml:"session_lock_ttl"` // redis only; refreshed while held
	// SystemPromptFile replaces the built-in system prompt when set.
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// RedisConfig is used by the redis session lock.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// Password returns the redis password from the environment.
func (r RedisConfig) Password() string {
	return os.Getenv(r.PasswordEnv)
}

// WatchConfig holds guide directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EnabledOrDefault returns whether /metrics is served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	return m.Enabled == nil || *m.Enabled
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Vector.SnapshotPath = expandPath(cfg.Vector.SnapshotPath, configDir)
	if cfg.Chat.SystemPromptFile != "" {
		cfg.Chat.SystemPromptFile = expandPath(cfg.Chat.SystemPromptFile, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings and cross-section requirements.
func (c *Config) Validate() error {
	if err := oneOf("storage.driver", c.Storage.Driver, "sqlite", "postgres"); err != nil {
		return err
	}
	if err := oneOf("vector.type", c.Vector.Type, "memory", "sqlite", "postgres"); err != nil {
		return err
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "openai", "mock"); err != nil {
		return err
	}
	if err := oneOf("llm.provider", c.LLM.Provider, "openai", "mock"); err != nil {
		return err
	}
	if err := oneOf("chat.session_lock", c.Chat.SessionLock, "none", "memory", "redis"); err != nil {
		return err
	}
	if c.Vector.Type == "sqlite" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("vector.type sqlite requires storage.driver sqlite")
	}
	if c.Vector.Type == "postgres" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("vector.type postgres requires storage.driver postgres")
	}
	if c.Chat.SessionLock == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("chat.session_lock redis requires redis.addr")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (supported: %s)", key, value, strings.Join(allowed, ", "))
}

// Save writes the config to path. Used by `config init`.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
