// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	StaticDir      string        `mapstructure:"static_dir"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LLMConfig selects the upstream model provider and its sampling parameters.
type LLMConfig struct {
	Provider    string          `mapstructure:"provider"` // gemini | anthropic | openai
	APIKey      string          `mapstructure:"api_key"`
	BaseURL     string          `mapstructure:"base_url"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	Extraction  string          `mapstructure:"extraction"` // greedy | balanced
	Models      LLMModels       `mapstructure:"models"`
	Temperature LLMTemperatures `mapstructure:"temperature"`
}

type LLMModels struct {
	Classify      string `mapstructure:"classify"`
	ClassifyChunk string `mapstructure:"classify_chunk"`
	Chat          string `mapstructure:"chat"`
}

// LLMTemperatures uses pointers so an unset chat temperature leaves the
// provider default in place.
type LLMTemperatures struct {
	Classify *float32 `mapstructure:"classify"`
	Chat     *float32 `mapstructure:"chat"`
}

// Configured reports whether an upstream credential is present.
func (l LLMConfig) Configured() bool {
	return l.APIKey != ""
}

// TaxonomyConfig holds the chunking and retry policy for classification.
type TaxonomyConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	ChunkThreshold   int           `mapstructure:"chunk_threshold"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	ChunkMaxAttempts int           `mapstructure:"chunk_max_attempts"`
	ChunkPause       time.Duration `mapstructure:"chunk_pause"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// Enabled is true when a host is configured; the audit store is optional.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
