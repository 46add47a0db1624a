package provider

import (
	"fmt"
	"os"
	"time"

	"codewright/internal/logging"
)

// Kind identifies a backend.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindOllama    Kind = "ollama"
	KindGemini    Kind = "gemini"
)

// Options selects and configures a backend. Explicit fields beat
// environment detection.
type Options struct {
	Kind    Kind
	APIKey  string
	Model   string
	BaseURL string

	// Timeout bounds each HTTP call. Zero selects the adapter default.
	Timeout time.Duration
}

// New builds a provider from options. An empty Kind triggers environment
// detection: ANTHROPIC_API_KEY first, then OPENAI_API_KEY, then
// GEMINI_API_KEY, then a local Ollama endpoint that needs no key.
func New(opts Options) (Provider, error) {
	kind := opts.Kind
	if kind == "" {
		kind = detectKind()
	}

	switch kind {
	case KindAnthropic:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic API key not configured (set ANTHROPIC_API_KEY)")
		}
		return NewAnthropicProviderWithConfig(AnthropicConfig{
			APIKey:  key,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
			Timeout: opts.Timeout,
		}), nil

	case KindOpenAI:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai API key not configured (set OPENAI_API_KEY)")
		}
		return NewOpenAIProviderWithConfig(OpenAIConfig{
			APIKey:  key,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
			Timeout: opts.Timeout,
		}), nil

	case KindGemini:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini API key not configured (set GEMINI_API_KEY)")
		}
		cfg := DefaultGeminiConfig(key)
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		return NewGeminiProviderWithConfig(cfg)

	case KindOllama:
		return NewOllamaProvider(opts.BaseURL, opts.Model), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: anthropic, openai, ollama, gemini)", kind)
	}
}

func detectKind() Kind {
	checks := []struct {
		envVar string
		kind   Kind
	}{
		{"ANTHROPIC_API_KEY", KindAnthropic},
		{"OPENAI_API_KEY", KindOpenAI},
		{"GEMINI_API_KEY", KindGemini},
	}
	for _, c := range checks {
		if os.Getenv(c.envVar) != "" {
			logging.ProviderDebug("provider detected from %s", c.envVar)
			return c.kind
		}
	}
	return KindOllama
}
