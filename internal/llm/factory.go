package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/groundwork/internal/model"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai", "azure":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, fmt.Errorf("no LLM provider configured (supported: openai, anthropic, ollama)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(modelConfig model.LLMConfig) Config {
	cfg := DefaultConfig()
	cfg.Provider = modelConfig.Provider
	cfg.APIKey = modelConfig.APIKey
	cfg.BaseURL = modelConfig.BaseURL
	cfg.HTTPProxy = modelConfig.HTTPProxy
	cfg.HTTPSProxy = modelConfig.HTTPSProxy
	cfg.NoProxy = modelConfig.NoProxy
	if modelConfig.Model != "" {
		cfg.Model = modelConfig.Model
	}
	if modelConfig.EmbeddingModel != "" {
		cfg.EmbeddingModel = modelConfig.EmbeddingModel
	}
	if modelConfig.TimeoutSeconds > 0 {
		cfg.Timeout = modelConfig.TimeoutSeconds
	}
	return cfg
}
