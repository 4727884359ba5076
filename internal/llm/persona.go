package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dyluth/agora/internal/capability"
	"github.com/dyluth/agora/internal/persona"
	"github.com/dyluth/agora/pkg/ledger"
)

// PersonaGenerator speaks for a participant using its persona prompt.
type PersonaGenerator struct {
	completer Completer
	prompts   persona.Prompts
}

// NewPersonaGenerator creates a generator backed by completer.
func NewPersonaGenerator(completer Completer, prompts persona.Prompts) *PersonaGenerator {
	return &PersonaGenerator{completer: completer, prompts: prompts}
}

// Generate implements capability.Generator. The reply is cleaned of a
// leading speaker prefix.
func (g *PersonaGenerator) Generate(ctx context.Context, p persona.Participant, history string) (string, error) {
	text, err := g.completer.Complete(ctx, g.prompts.SystemPrompt(p), history)
	if err != nil {
		return "", err
	}
	return persona.CleanResponse(text), nil
}

// GenerateStream implements capability.StreamGenerator. Deltas are passed
// through as received; only the returned text is cleaned.
func (g *PersonaGenerator) GenerateStream(ctx context.Context, p persona.Participant, history string, onDelta func(string)) (string, error) {
	sc, ok := g.completer.(StreamCompleter)
	if !ok {
		return g.Generate(ctx, p, history)
	}
	text, err := sc.CompleteStream(ctx, g.prompts.SystemPrompt(p), history, onDelta)
	if err != nil {
		return "", err
	}
	return persona.CleanResponse(text), nil
}

// HistorySource supplies recent ledger entries for bid prompts.
type HistorySource interface {
	Recent(ctx context.Context, n int) ([]ledger.Entry, error)
}

// PromptScorer asks a model how strongly a participant wants to speak.
type PromptScorer struct {
	completer Completer
	prompts   persona.Prompts
	history   HistorySource
	turns     int
}

// NewPromptScorer creates a scorer that shows the model the last turns entries.
func NewPromptScorer(completer Completer, prompts persona.Prompts, history HistorySource, turns int) *PromptScorer {
	return &PromptScorer{completer: completer, prompts: prompts, history: history, turns: turns}
}

// ScoreBid implements capability.BidScorer.
func (s *PromptScorer) ScoreBid(ctx context.Context, p persona.Participant, credits map[string]int) (float64, error) {
	transcript := ledger.NoHistory
	if s.history != nil {
		recent, err := s.history.Recent(ctx, s.turns)
		if err != nil {
			return 0, fmt.Errorf("failed to read history for bid: %w", err)
		}
		transcript = ledger.FormatTranscript(recent)
	}

	reply, err := s.completer.Complete(ctx,
		s.prompts.BiddingPrompt(credits[p.ID]),
		s.prompts.BidUserMessage(p, transcript))
	if err != nil {
		return 0, err
	}
	return ParseScore(reply)
}

var jsonObject = regexp.MustCompile(`\{[^{}]*\}`)

// ParseScore extracts the score from a model reply. The reply is expected to
// contain a JSON object with a "score" field, possibly surrounded by prose; a
// bare number is accepted too. The score is not range checked.
func ParseScore(reply string) (float64, error) {
	reply = strings.TrimSpace(reply)

	for _, candidate := range jsonObject.FindAllString(reply, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		switch v := obj["score"].(type) {
		case float64:
			return v, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
	}

	if f, err := strconv.ParseFloat(reply, 64); err == nil {
		return f, nil
	}
	return 0, fmt.Errorf("%w: no score in reply %q", capability.ErrMalformedScore, truncate(reply, 80))
}

// RandomScorer returns uniformly random scores. It needs no network access
// and is safe for concurrent use.
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer creates a scorer. A nil rng uses a randomly seeded source.
func NewRandomScorer(rng *rand.Rand) *RandomScorer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomScorer{rng: rng}
}

// ScoreBid implements capability.BidScorer.
func (s *RandomScorer) ScoreBid(ctx context.Context, _ persona.Participant, _ map[string]int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 100, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
