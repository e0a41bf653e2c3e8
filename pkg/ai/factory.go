package ai

import (
	"fmt"

	"inboxjanitor/pkg/gemini"

	"github.com/sirupsen/logrus"
)

// Config holds AI provider configuration
type Config struct {
	// Provider is the preferred provider; GetProvider, when set, overrides it at runtime
	Provider    ProviderType
	GetProvider func() ProviderType

	// Gemini config
	GeminiAPIKey string
	GeminiModel  string

	// Ollama config, read on every request so settings can change at runtime
	GetOllamaBaseURL func() string
	GetOllamaModel   func() string

	// OpenAI compatible config
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// NewClassifier builds the fallback classifier from every configured provider.
// Ollama needs no credentials and is always registered as the last resort.
func NewClassifier(cfg Config, logger *logrus.Logger) (*FallbackService, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
	case ProviderOllama, ProviderAuto, "":
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}

	var providers []Provider
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, gemini.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
	}

	getBaseURL, getModel := cfg.GetOllamaBaseURL, cfg.GetOllamaModel
	if getBaseURL == nil {
		getBaseURL = func() string { return "http://localhost:11434" }
	}
	if getModel == nil {
		getModel = func() string { return "llama3" }
	}
	providers = append(providers, NewOllamaServiceWithGetters(getBaseURL, getModel))

	preferred := cfg.GetProvider
	if preferred == nil {
		static := cfg.Provider
		preferred = func() ProviderType { return static }
	}

	return NewFallbackService(logger, preferred, providers...), nil
}
