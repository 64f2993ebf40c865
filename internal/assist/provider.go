// Package assist turns the current debugging position into a natural
// language explanation using a configured model provider. It is
// optional; without an API key the rest of the debugger is unaffected.
package assist

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotConfigured means no API key was found for the selected
// provider. Callers treat this as "assist disabled", not a failure.
var ErrNotConfigured = errors.New("assist: no API key configured")

// Provider answers one rendered prompt with one completion.
type Provider interface {
	// Name identifies the backing service for logs and the CLI.
	Name() string

	// Explain sends the prompt and returns the model's text.
	Explain(ctx context.Context, prompt string) (string, error)

	// Close releases any connections held by the provider.
	Close() error
}

// Options selects and configures a provider.
type Options struct {
	// Provider is one of "anthropic", "openai", "gemini". Empty
	// defaults to "anthropic".
	Provider string

	// Model overrides the provider's default model.
	Model string

	// APIKeyEnv names the environment variable holding the key.
	// Empty falls back to the provider's conventional variable.
	APIKeyEnv string
}

// defaultKeyEnv is the conventional API key variable per provider.
var defaultKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// New builds the provider selected by opts. It returns
// ErrNotConfigured when the key variable is unset or empty.
func New(ctx context.Context, opts Options) (Provider, error) {
	name := opts.Provider
	if name == "" {
		name = "anthropic"
	}

	keyEnv := opts.APIKeyEnv
	if keyEnv == "" {
		var ok bool
		keyEnv, ok = defaultKeyEnv[name]
		if !ok {
			return nil, fmt.Errorf("assist: unknown provider %q", name)
		}
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w (set %s)", ErrNotConfigured, keyEnv)
	}

	switch name {
	case "anthropic":
		return newAnthropic(key, opts.Model), nil
	case "openai":
		return newOpenAI(key, opts.Model), nil
	case "gemini":
		return newGemini(ctx, key, opts.Model)
	default:
		return nil, fmt.Errorf("assist: unknown provider %q", name)
	}
}
