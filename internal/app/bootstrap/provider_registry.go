package bootstrap

import (
	"docqa/internal/adapter/provider/llm/openai"
	"docqa/internal/platform/config"
	applog "docqa/internal/platform/log"
	"docqa/internal/provider"
)

// RegisterLLMProviders registers configured LLM providers.
func RegisterLLMProviders(cfg config.OpenAIConfig) {
	if cfg.APIKey == "" {
		applog.Warn("⚠️  No OPENAI_API_KEY set, answer generation will not work")
		return
	}

	p := openai.New(openai.Config{
		APIKey:                cfg.APIKey,
		BaseURL:               cfg.BaseURL,
		RequestTimeoutSeconds: cfg.RequestTimeoutSeconds,
	})
	provider.RegisterProvider(p)
	applog.Infof("✅ Registered LLM provider: %s (base: %s)", p.Name(), cfg.BaseURL)
}
