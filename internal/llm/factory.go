package llm

import (
	"fmt"
	"strings"

	"github.com/clinlp/medspan/internal/model"
)

// NewProvider creates a new provider based on configuration
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai", "":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	default:
		return nil, fmt.Errorf("unknown translation provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts the translate and HTTP sections into a Config.
func ConfigFromModel(tc model.TranslateConfig, hc model.HTTPConfig) Config {
	return Config{
		Provider:   tc.Provider,
		Model:      tc.Model,
		APIKey:     tc.APIKey,
		BaseURL:    tc.BaseURL,
		Timeout:    tc.Timeout,
		MaxTokens:  tc.MaxTokens,
		HTTPProxy:  hc.HTTPProxy,
		HTTPSProxy: hc.HTTPSProxy,
		NoProxy:    hc.NoProxy,
	}
}
