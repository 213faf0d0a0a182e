package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearCredentials(t *testing.T) {
	t.Helper()
	for _, name := range credentialEnvVars {
		t.Setenv(name, "")
	}
	t.Setenv("LLM_API_KEY", "")
}

func TestLoadFromFile_Defaults(t *testing.T) {
	clearCredentials(t)
	path := writeConfig(t, "app:\n  name: trial-screener\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, DefaultClassifyModel, cfg.LLM.Models.Classify)
	assert.Equal(t, DefaultClassifyChunkModel, cfg.LLM.Models.ClassifyChunk)
	assert.Equal(t, DefaultChatModel, cfg.LLM.Models.Chat)
	require.NotNil(t, cfg.LLM.Temperature.Classify)
	assert.InDelta(t, 0.1, *cfg.LLM.Temperature.Classify, 0.0001)
	assert.Nil(t, cfg.LLM.Temperature.Chat)

	assert.Equal(t, 400, cfg.Taxonomy.ChunkSize)
	assert.Equal(t, 400, cfg.Taxonomy.ChunkThreshold)
	assert.Equal(t, 3, cfg.Taxonomy.MaxAttempts)
	assert.Equal(t, 1, cfg.Taxonomy.ChunkMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Taxonomy.ChunkPause)
	assert.Equal(t, time.Second, cfg.Taxonomy.BackoffBase)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	assert.False(t, cfg.LLM.Configured(), "missing credential must not fail loading")
}

func TestLoadFromFile_FileValues(t *testing.T) {
	clearCredentials(t)
	path := writeConfig(t, `
server:
  port: 9090
llm:
  provider: Anthropic
  extraction: balanced
  models:
    classify: claude-sonnet-4-5
  temperature:
    chat: 0.7
taxonomy:
  chunk_size: 50
  chunk_pause: 2s
  chunk_max_attempts: 2
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "balanced", cfg.LLM.Extraction)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Models.Classify)
	require.NotNil(t, cfg.LLM.Temperature.Chat)
	assert.InDelta(t, 0.7, *cfg.LLM.Temperature.Chat, 0.0001)
	assert.Equal(t, 50, cfg.Taxonomy.ChunkSize)
	assert.Equal(t, 2*time.Second, cfg.Taxonomy.ChunkPause)
	assert.Equal(t, 2, cfg.Taxonomy.ChunkMaxAttempts)
}

func TestLoadFromFile_EnvOverridesKeysWithoutDefaults(t *testing.T) {
	clearCredentials(t)
	t.Setenv("TAXONOMY_CHUNK_SIZE", "50")
	t.Setenv("CACHE_TTL", "1h")
	t.Setenv("DATABASE_POSTGRES_HOST", "db")
	t.Setenv("DATABASE_POSTGRES_DATABASE", "screener")
	t.Setenv("DATABASE_POSTGRES_USER", "screener")

	cfg, err := LoadFromFile(writeConfig(t, "app:\n  name: x\n"))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Taxonomy.ChunkSize)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "screener", cfg.Database.Postgres.Database)
	assert.True(t, cfg.Database.Postgres.Enabled())
}

func TestLoadFromFile_CredentialFallbacks(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "primary variable", env: map[string]string{"API_KEY": "primary", "GEMINI_API_KEY": "gemini"}, want: "primary"},
		{name: "provider fallback", env: map[string]string{"GEMINI_API_KEY": "gemini"}, want: "gemini"},
		{name: "viper key", env: map[string]string{"LLM_API_KEY": "from-viper", "API_KEY": "primary"}, want: "from-viper"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCredentials(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadFromFile(writeConfig(t, "app:\n  name: x\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.LLM.APIKey)
			assert.True(t, cfg.LLM.Configured())
		})
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{name: "unknown provider", body: "llm:\n  provider: llama\n", msg: "llm.provider"},
		{name: "unknown extraction", body: "llm:\n  extraction: lazy\n", msg: "llm.extraction"},
		{name: "postgres without database", body: "database:\n  postgres:\n    host: db\n    user: u\n", msg: "database.postgres.database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCredentials(t)
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadFromFile_ExpandsPlaceholders(t *testing.T) {
	clearCredentials(t)
	t.Setenv("SCREENER_KEY", "expanded")
	cfg, err := LoadFromFile(writeConfig(t, "llm:\n  api_key: ${SCREENER_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.LLM.APIKey)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
