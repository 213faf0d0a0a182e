// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultProvider = "gemini"

	DefaultClassifyModel      = "gemini-2.0-flash-001"
	DefaultClassifyChunkModel = "gemini-2.0-flash-exp"
	DefaultChatModel          = "gemini-2.5-pro"
	DefaultClassifyTemp       = float32(0.1)

	DefaultChunkSize   = 400
	DefaultMaxAttempts = 3
)

// credentialEnvVars are checked in order when llm.api_key is empty.
var credentialEnvVars = []string{"API_KEY", "GEMINI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"}

// Load reads .env, configs/config.yaml, configs/config.<APP_ENVIRONMENT>.yaml
// and the process environment, in increasing precedence. A missing credential
// is not an error; the service starts degraded.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Registered keys are what AutomaticEnv can see during Unmarshal.
	v.SetDefault("app.name", "trial-screener")
	v.SetDefault("app.environment", "development")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.static_dir", "frontend/dist")
	v.SetDefault("llm.provider", DefaultProvider)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.extraction", "greedy")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// boundKeys have no default but can still come from the environment.
var boundKeys = []string{
	"server.read_timeout", "server.write_timeout", "server.allowed_origins",
	"llm.base_url", "llm.timeout",
	"llm.models.classify", "llm.models.classify_chunk", "llm.models.chat",
	"llm.temperature.classify", "llm.temperature.chat",
	"taxonomy.chunk_size", "taxonomy.chunk_threshold", "taxonomy.max_attempts",
	"taxonomy.chunk_max_attempts", "taxonomy.chunk_pause", "taxonomy.backoff_base",
	"cache.ttl",
	"database.postgres.port", "database.postgres.database", "database.postgres.user",
	"database.postgres.password", "database.postgres.sslmode",
	"database.postgres.max_connections", "database.postgres.max_idle",
	"database.redis.password", "database.redis.db",
	"tracing.sample_ratio",
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries the usual locations, first hit wins.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills the credential and database secrets from their
// conventional variable names.
func overrideEmptyConfig(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		for _, name := range credentialEnvVars {
			if val := strings.TrimSpace(os.Getenv(name)); val != "" {
				cfg.LLM.APIKey = val
				break
			}
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Address == "" {
		if val := os.Getenv("REDIS_URL"); val != "" {
			cfg.Database.Redis.Address = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	// Chunked classification of a large list can take minutes.
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = DefaultProvider
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.Extraction == "" {
		cfg.LLM.Extraction = "greedy"
	}
	if cfg.LLM.Models.Classify == "" {
		cfg.LLM.Models.Classify = DefaultClassifyModel
	}
	if cfg.LLM.Models.ClassifyChunk == "" {
		cfg.LLM.Models.ClassifyChunk = DefaultClassifyChunkModel
	}
	if cfg.LLM.Models.Chat == "" {
		cfg.LLM.Models.Chat = DefaultChatModel
	}
	if cfg.LLM.Temperature.Classify == nil {
		t := DefaultClassifyTemp
		cfg.LLM.Temperature.Classify = &t
	}

	if cfg.Taxonomy.ChunkSize == 0 {
		cfg.Taxonomy.ChunkSize = DefaultChunkSize
	}
	if cfg.Taxonomy.ChunkThreshold == 0 {
		cfg.Taxonomy.ChunkThreshold = DefaultChunkSize
	}
	if cfg.Taxonomy.MaxAttempts == 0 {
		cfg.Taxonomy.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Taxonomy.ChunkMaxAttempts == 0 {
		cfg.Taxonomy.ChunkMaxAttempts = 1
	}
	if cfg.Taxonomy.ChunkPause == 0 {
		cfg.Taxonomy.ChunkPause = 500 * time.Millisecond
	}
	if cfg.Taxonomy.BackoffBase == 0 {
		cfg.Taxonomy.BackoffBase = time.Second
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "gemini", "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider %q is not supported", cfg.LLM.Provider)
	}

	switch cfg.LLM.Extraction {
	case "greedy", "balanced":
	default:
		return fmt.Errorf("llm.extraction %q must be greedy or balanced", cfg.LLM.Extraction)
	}

	if cfg.Taxonomy.ChunkSize < 1 {
		return fmt.Errorf("taxonomy.chunk_size must be positive")
	}
	if cfg.Taxonomy.MaxAttempts < 1 || cfg.Taxonomy.ChunkMaxAttempts < 1 {
		return fmt.Errorf("taxonomy max attempts must be at least 1")
	}

	if cfg.Database.Postgres.Enabled() {
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required when host is set")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required when host is set")
		}
	}

	return nil
}
