package persona

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// CreditsPlaceholder is replaced by the bidder's remaining credits in the
// bidding prompt.
const CreditsPlaceholder = "||"

const defaultActionPrompt = `

You are taking part in a group conversation. Reply with what you would say next,
in your own voice, in at most a few sentences. Do not prefix your reply with
your name and do not describe actions.`

const defaultBiddingPrompt = `You decide how much you want to speak next in a group conversation.
You have || credits left. Every time you win the right to speak, the credits you
bid are spent and never refunded.

Read the persona and the conversation so far and rate how strongly this person
wants to speak right now, from 0 (not at all) to 100 (must speak).

Answer with a JSON object and nothing else, for example: {"score": 42}`

// speakerPrefix matches a leading "Name:" that models like to prepend.
var speakerPrefix = regexp.MustCompile(`^[^:\n]+\s*:\s*`)

// Prompts holds the shared prompt templates.
type Prompts struct {
	Action  string // Appended to every persona prompt to form the system prompt
	Bidding string // System prompt for bid scoring; may contain CreditsPlaceholder
}

// DefaultPrompts returns built-in templates.
func DefaultPrompts() Prompts {
	return Prompts{Action: defaultActionPrompt, Bidding: defaultBiddingPrompt}
}

// LoadPrompts reads templates from files. An empty path keeps the built-in
// template for that prompt.
func LoadPrompts(actionFile, biddingFile string) (Prompts, error) {
	p := DefaultPrompts()

	if actionFile != "" {
		data, err := os.ReadFile(actionFile)
		if err != nil {
			return Prompts{}, fmt.Errorf("failed to read system prompt %s: %w", actionFile, err)
		}
		p.Action = string(data)
	}

	if biddingFile != "" {
		data, err := os.ReadFile(biddingFile)
		if err != nil {
			return Prompts{}, fmt.Errorf("failed to read bidding prompt %s: %w", biddingFile, err)
		}
		p.Bidding = string(data)
	}

	return p, nil
}

// SystemPrompt returns the generation system prompt for a participant.
func (p Prompts) SystemPrompt(participant Participant) string {
	return participant.PersonaPrompt + p.Action
}

// BiddingPrompt returns the bid-scoring system prompt for a bidder with the
// given remaining credits.
func (p Prompts) BiddingPrompt(credits int) string {
	return strings.ReplaceAll(p.Bidding, CreditsPlaceholder, strconv.Itoa(credits))
}

// BidUserMessage returns the user message sent alongside the bidding prompt.
func (p Prompts) BidUserMessage(participant Participant, transcript string) string {
	return "Persona: " + participant.PersonaPrompt + "\n\nConversation History: \n" + transcript
}

// CleanResponse strips one leading "Name:" prefix and surrounding whitespace
// from generated text.
func CleanResponse(text string) string {
	return strings.TrimSpace(speakerPrefix.ReplaceAllString(strings.TrimSpace(text), ""))
}

// LoadPersonaPrompt reads a participant's persona description. An empty path
// yields a minimal persona derived from the role.
func LoadPersonaPrompt(path, role string) (string, error) {
	if path == "" {
		return fmt.Sprintf("You are %s.", role), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read persona prompt for %s: %w", role, err)
	}
	return string(data), nil
}
