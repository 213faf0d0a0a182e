// internal/workers/ai-conversation/eligibility-chat/config.go
package eligibilitychat

import "trial-screener/internal/common/config"

type Config struct {
	Model       string
	Temperature *float32
}

func LoadConfig() *Config {
	return &Config{
		Model: config.DefaultChatModel,
	}
}

// ConfigFrom maps the application config onto the worker config.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Model:       cfg.LLM.Models.Chat,
		Temperature: cfg.LLM.Temperature.Chat,
	}
}
