package persona

import (
	"strings"

	"github.com/dyluth/agora/internal/config"
)

// RosterFromConfig reads each participant's persona prompt and builds a roster.
func RosterFromConfig(participants []config.ParticipantConfig) (*Roster, error) {
	ps := make([]Participant, 0, len(participants))
	for _, pc := range participants {
		prompt, err := LoadPersonaPrompt(pc.PersonaPromptFile, strings.TrimSpace(pc.Role))
		if err != nil {
			return nil, err
		}
		ps = append(ps, Participant{ID: pc.ID, Role: pc.Role, PersonaPrompt: prompt})
	}
	return NewRoster(ps)
}
