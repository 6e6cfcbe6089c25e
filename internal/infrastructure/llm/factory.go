package llm

import (
	"fmt"
	"strings"

	"github.com/kirillkom/invoiceflow/internal/core/ports"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/llm/openai"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/resilience"
)

// ProviderConfig selects and configures one completion backend. Clients are
// constructed per call site from configuration; nothing here is a process
// global, so two components can talk to different providers at once.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string

	ResilienceExecutor *resilience.Executor
}

// NewExtractionClient builds the completion client for the named provider.
// "openai" targets api.openai.com unless a base URL overrides it; "compatible"
// is any OpenAI-compatible endpoint (vLLM, LiteLLM, Ollama in compat mode)
// and requires an explicit base URL.
func NewExtractionClient(cfg ProviderConfig) (ports.ExtractionClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com"
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider %q requires an api key", provider)
		}
		return openai.New(baseURL, cfg.APIKey, cfg.Model, openai.Options{
			ResilienceExecutor: cfg.ResilienceExecutor,
		}), nil
	case "compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider %q requires a base url", provider)
		}
		return openai.New(cfg.BaseURL, cfg.APIKey, cfg.Model, openai.Options{
			ResilienceExecutor: cfg.ResilienceExecutor,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
