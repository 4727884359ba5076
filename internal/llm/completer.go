// Package llm adapts hosted language models to the generation and bid-scoring
// capabilities used by the scheduler.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/agora/internal/config"
)

// Completer sends a single system prompt and user message to a model and
// returns its reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// StreamCompleter is a Completer that can deliver its reply incrementally.
type StreamCompleter interface {
	Completer
	CompleteStream(ctx context.Context, system, user string, onDelta func(string)) (string, error)
}

const (
	// GroqBaseURL is Groq's OpenAI-compatible endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	defaultMaxTokens = 1024
)

// NewCompleter builds a Completer for a model spec. API keys are read from
// ANTHROPIC_API_KEY, GROQ_API_KEY or OPENAI_API_KEY. The random provider has
// no completer and returns (nil, nil), as does a disabled spec.
func NewCompleter(spec config.ModelSpec) (Completer, error) {
	maxTokens := int64(spec.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	switch spec.Provider {
	case config.ProviderAnthropic:
		key, err := apiKey("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewAnthropicClient(key, spec.BaseURL, spec.Model, maxTokens), nil

	case config.ProviderGroq:
		key, err := apiKey("GROQ_API_KEY")
		if err != nil {
			return nil, err
		}
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = GroqBaseURL
		}
		return NewOpenAIClient(key, baseURL, spec.Model, maxTokens), nil

	case config.ProviderOpenAI:
		key, err := apiKey("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewOpenAIClient(key, spec.BaseURL, spec.Model, maxTokens), nil

	case config.ProviderRandom, config.ProviderNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown model provider %q", spec.Provider)
	}
}

func apiKey(env string) (string, error) {
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("%s is not set", env)
	}
	return key, nil
}
