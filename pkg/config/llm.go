package config

// ProviderConfig holds per-provider connection settings, keyed in the
// config document by the provider enum value ("openai", "anthropic",
// "gemini"). API keys arrive through env expansion, never inline.
type ProviderConfig struct {
	APIKey string `yaml:"apiKey"`
	// BaseURL overrides the provider endpoint. For the openai provider
	// this is how OpenAI-compatible gateways (OpenRouter, Groq, Ollama)
	// are reached.
	BaseURL string `yaml:"baseUrl"`
	// DefaultModel is used when an agent's llm.model is empty.
	DefaultModel string `yaml:"defaultModel"`
}
