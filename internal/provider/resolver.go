package provider

import (
	"os"

	"github.com/careerpilot/careerpilot/internal/config"
)

// apiKeyEnvVars is the lookup order for the provider API key.
var apiKeyEnvVars = []string{
	"CAREERPILOT_API_KEY",
	"OPENROUTER_API_KEY",
	"OPENAI_API_KEY",
}

// APIKey returns the first configured API key from the environment.
func APIKey() string {
	for _, name := range apiKeyEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Resolve builds the LLM provider from config, falling back to well-known
// environment variables when the config carries no key.
func Resolve(cfg *config.Config) LLMProvider {
	key := cfg.Provider.APIKey
	if key == "" {
		key = APIKey()
	}
	return NewOpenAIProvider(key, cfg.Provider.APIBase, cfg.Provider.Model)
}
