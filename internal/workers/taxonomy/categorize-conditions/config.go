// internal/workers/taxonomy/categorize-conditions/config.go
package categorizeconditions

import (
	"time"

	"trial-screener/internal/common/config"
)

type Config struct {
	ClassifyModel string
	ChunkModel    string
	Temperature   *float32

	ChunkSize        int
	ChunkThreshold   int
	MaxAttempts      int
	ChunkMaxAttempts int
	ChunkPause       time.Duration
	BackoffBase      time.Duration

	CacheEnabled bool
	CacheTTL     time.Duration
}

func LoadConfig() *Config {
	temp := float32(config.DefaultClassifyTemp)
	return &Config{
		ClassifyModel:    config.DefaultClassifyModel,
		ChunkModel:       config.DefaultClassifyChunkModel,
		Temperature:      &temp,
		ChunkSize:        config.DefaultChunkSize,
		ChunkThreshold:   config.DefaultChunkSize,
		MaxAttempts:      config.DefaultMaxAttempts,
		ChunkMaxAttempts: 1,
		ChunkPause:       500 * time.Millisecond,
		BackoffBase:      time.Second,
		CacheEnabled:     true,
		CacheTTL:         24 * time.Hour,
	}
}

// ConfigFrom maps the application config onto the worker config.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		ClassifyModel:    cfg.LLM.Models.Classify,
		ChunkModel:       cfg.LLM.Models.ClassifyChunk,
		Temperature:      cfg.LLM.Temperature.Classify,
		ChunkSize:        cfg.Taxonomy.ChunkSize,
		ChunkThreshold:   cfg.Taxonomy.ChunkThreshold,
		MaxAttempts:      cfg.Taxonomy.MaxAttempts,
		ChunkMaxAttempts: cfg.Taxonomy.ChunkMaxAttempts,
		ChunkPause:       cfg.Taxonomy.ChunkPause,
		BackoffBase:      cfg.Taxonomy.BackoffBase,
		CacheEnabled:     cfg.Cache.Enabled,
		CacheTTL:         cfg.Cache.TTL,
	}
}
