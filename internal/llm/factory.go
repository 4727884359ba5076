package llm

import (
	"fmt"

	"github.com/dyluth/agora/internal/capability"
	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/persona"
)

// NewScorer builds a bid scorer for spec. A disabled spec yields a nil
// scorer, which callers treat as "no fallback".
func NewScorer(spec config.ModelSpec, prompts persona.Prompts, history HistorySource, turns int) (capability.BidScorer, error) {
	if !spec.Enabled() {
		return nil, nil
	}
	if spec.Provider == config.ProviderRandom {
		return NewRandomScorer(nil), nil
	}

	completer, err := NewCompleter(spec)
	if err != nil {
		return nil, fmt.Errorf("bid model %s: %w", spec.Model, err)
	}
	return NewPromptScorer(completer, prompts, history, turns), nil
}

// GenerationError names the generation model that could not be built.
type GenerationError struct {
	Field string // "generation_primary" or "generation_fallback"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerator builds a generator that tries primary, then fallback. Errors
// are *GenerationError.
func NewGenerator(primary, fallback config.ModelSpec, prompts persona.Prompts) (capability.StreamGenerator, error) {
	var g capability.FallbackGenerator

	first, err := newPersonaGenerator(primary, prompts)
	if err != nil {
		return nil, &GenerationError{Field: "generation_primary", Err: err}
	}
	if first == nil {
		return nil, &GenerationError{Field: "generation_primary", Err: fmt.Errorf("generation model has no provider")}
	}
	g.Primary = first

	second, err := newPersonaGenerator(fallback, prompts)
	if err != nil {
		return nil, &GenerationError{Field: "generation_fallback", Err: err}
	}
	if second != nil {
		g.Fallback = second
	}

	return g, nil
}

func newPersonaGenerator(spec config.ModelSpec, prompts persona.Prompts) (*PersonaGenerator, error) {
	if !spec.Enabled() {
		return nil, nil
	}
	if spec.Provider == config.ProviderRandom {
		return nil, fmt.Errorf("provider %q cannot generate text", spec.Provider)
	}

	completer, err := NewCompleter(spec)
	if err != nil {
		return nil, fmt.Errorf("generation model %s: %w", spec.Model, err)
	}
	return NewPersonaGenerator(completer, prompts), nil
}
