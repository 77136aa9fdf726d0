package llm

import (
	"fmt"
	"time"
)

// ProviderConfig holds all configuration needed to create any model provider.
type ProviderConfig struct {
	Provider   string // "anthropic", "openai", "groq", "ollama", "custom", ...
	APIKey     string
	Model      string
	BaseURL    string // Override for self-hosted / custom endpoints
	EmbedModel string // Embedding model (OpenAI-compatible providers only)

	// Timeout and retry configuration
	Timeout     time.Duration // Per-request timeout (default: 2 minutes)
	MaxAttempts int           // Total attempts per call (default: 3)
	BaseDelay   time.Duration // Initial backoff delay (default: 250ms)
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:     2 * time.Minute,
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
	}
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// NewFactory creates an empty factory; call Register to add constructors.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{constructors: make(map[string]ProviderConstructor)}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config, wrapped with the configured retry
// policy. Returns an error for unknown provider names.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q (registered: %v)", cfg.Provider, f.names())
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, cfg), nil
}

func (f *ProviderFactory) names() []string {
	var out []string
	for k := range f.constructors {
		out = append(out, k)
	}
	return out
}

// WrapWithRetry wraps a provider with retry logic derived from config,
// filling in defaults for unset fields.
func WrapWithRetry(provider Provider, cfg ProviderConfig) Provider {
	if provider == nil {
		return nil
	}

	rc := DefaultRetryConfig()
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		rc.BaseDelay = cfg.BaseDelay
	}
	return NewRetryProvider(provider, rc)
}

// KnownProviders documents the built-in provider presets. For OpenAI-compatible
// APIs (Groq, vLLM, Ollama, Together, etc.) use the "openai" provider with a
// custom base_url.
var KnownProviders = map[string]string{
	"anthropic": "https://api.anthropic.com/v1",
	"openai":    "https://api.openai.com/v1",
	"groq":      "https://api.groq.com/openai/v1",
	"ollama":    "http://localhost:11434/v1",
	"together":  "https://api.together.xyz/v1",
	"deepseek":  "https://api.deepseek.com/v1",
}
