// Package persona holds the fixed set of participants of a simulation and the
// prompt text used to make them bid and speak.
package persona

import (
	"fmt"
	"sort"
	"strings"
)

// Participant is one simulated identity eligible to bid and speak.
type Participant struct {
	ID            string // Stable identifier, e.g. "Anagha_Palandye"
	Role          string // Display name written to the ledger, e.g. "Anagha"
	PersonaPrompt string // Description of the persona handed to the models
}

// Validate checks that the participant has an ID and a role.
func (p Participant) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("participant ID cannot be empty")
	}
	if strings.TrimSpace(p.Role) == "" {
		return fmt.Errorf("participant %q: role cannot be empty", p.ID)
	}
	return nil
}

// Roster is the immutable participant set of a simulation.
type Roster struct {
	participants []Participant
	byID         map[string]Participant
	canonical    []string
}

// NewRoster validates participants and builds a roster. IDs and roles are
// trimmed of surrounding space and must be unique, and there must be at
// least two participants.
func NewRoster(participants []Participant) (*Roster, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("at least 2 participants are required, got %d", len(participants))
	}

	r := &Roster{
		participants: make([]Participant, 0, len(participants)),
		byID:         make(map[string]Participant, len(participants)),
		canonical:    make([]string, 0, len(participants)),
	}

	roles := make(map[string]string, len(participants))
	for _, p := range participants {
		p.ID = strings.TrimSpace(p.ID)
		p.Role = strings.TrimSpace(p.Role)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate participant ID %q", p.ID)
		}
		key := strings.ToLower(p.Role)
		if other, dup := roles[key]; dup {
			return nil, fmt.Errorf("participants %q and %q share the role %q", other, p.ID, p.Role)
		}
		roles[key] = p.ID
		r.participants = append(r.participants, p)
		r.byID[p.ID] = p
		r.canonical = append(r.canonical, p.ID)
	}

	sort.Strings(r.canonical)
	return r, nil
}

// IDs returns participant IDs in canonical (lexicographic) order. This order
// breaks ties between equal bids.
func (r *Roster) IDs() []string {
	return append([]string(nil), r.canonical...)
}

// Participants returns the participants in configured order.
func (r *Roster) Participants() []Participant {
	return append([]Participant(nil), r.participants...)
}

// Len returns the number of participants.
func (r *Roster) Len() int {
	return len(r.participants)
}

// Get looks up a participant by ID.
func (r *Roster) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// ByRole looks up a participant by display role, ignoring case.
func (r *Roster) ByRole(role string) (Participant, bool) {
	role = strings.TrimSpace(role)
	for _, p := range r.participants {
		if strings.EqualFold(p.Role, role) {
			return p, true
		}
	}
	return Participant{}, false
}

// First returns the first configured participant, used for the ledger seed.
func (r *Roster) First() Participant {
	return r.participants[0]
}
