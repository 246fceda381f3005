package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider string // openai | anthropic | ollama
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration

	// RequestsPerSecond and Burst configure outbound throttling.
	// RequestsPerSecond <= 0 disables it.
	RequestsPerSecond float64
	Burst             int
}

// NewCompleter creates the Completer for cfg.Provider, wrapped in a rate
// limiter when RequestsPerSecond is set.
func NewCompleter(cfg ProviderConfig) (Completer, error) {
	var c Completer
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		c = NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		c = NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	case "ollama":
		c = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	if cfg.RequestsPerSecond > 0 {
		c = NewRateLimitedCompleter(c, cfg.RequestsPerSecond, cfg.Burst)
	}
	return c, nil
}
