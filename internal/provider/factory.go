package provider

import (
	"fmt"
	"net/http"
	"time"
)

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

// ProviderConfig mirrors config.ProviderConfig to avoid circular imports.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	API     string
	Models  []ModelInfo
	// Timeout bounds one HTTP exchange. Zero keeps the provider default.
	Timeout time.Duration
}

// FromConfig creates a Provider from a config entry. The api field
// determines which wire format to use:
//   - "openai-completions"  -> OpenAI chat completions (also Azure, Ollama, vLLM)
//   - "anthropic-messages"  -> Anthropic Messages API
func FromConfig(cfg ProviderConfig) (Provider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("provider config has no id")
	}
	for i := range cfg.Models {
		if cfg.Models[i].ProviderID == "" {
			cfg.Models[i].ProviderID = cfg.ID
		}
	}
	switch cfg.API {
	case APIOpenAI, "":
		var opts []OpenAIOption
		if cfg.Timeout > 0 {
			opts = append(opts, WithOpenAIHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models, opts...), nil
	case APIAnthropic:
		var opts []AnthropicOption
		if cfg.Timeout > 0 {
			opts = append(opts, WithAnthropicHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models, opts...), nil
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic)
	}
}
