package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/agora/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParticipants() []Participant {
	return []Participant{
		{ID: "Gaurav_Atavale", Role: "Gaurav", PersonaPrompt: "You are Gaurav."},
		{ID: "Anagha_Palandye", Role: "Anagha", PersonaPrompt: "You are Anagha."},
		{ID: "Nirbhay_R", Role: "Nirbhay", PersonaPrompt: "You are Nirbhay."},
	}
}

func TestNewRoster(t *testing.T) {
	t.Run("orders IDs canonically and keeps configured order", func(t *testing.T) {
		r, err := NewRoster(testParticipants())
		require.NoError(t, err)

		assert.Equal(t, []string{"Anagha_Palandye", "Gaurav_Atavale", "Nirbhay_R"}, r.IDs())
		assert.Equal(t, "Gaurav_Atavale", r.First().ID)
		assert.Equal(t, 3, r.Len())
		assert.Equal(t, testParticipants(), r.Participants())
	})

	t.Run("trims ids and roles", func(t *testing.T) {
		r, err := NewRoster([]Participant{
			{ID: " Anagha_Palandye", Role: " Anagha "},
			{ID: "Gaurav_Atavale", Role: "Gaurav\t"},
		})
		require.NoError(t, err)

		p, ok := r.ByRole("Anagha")
		require.True(t, ok)
		assert.Equal(t, "Anagha_Palandye", p.ID)
		assert.Equal(t, "Anagha", p.Role)
		_, ok = r.Get("Anagha_Palandye")
		assert.True(t, ok)
		assert.Equal(t, "Gaurav", r.Participants()[1].Role)
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		r, err := NewRoster(testParticipants())
		require.NoError(t, err)

		ids := r.IDs()
		ids[0] = "mutated"
		assert.Equal(t, "Anagha_Palandye", r.IDs()[0])
	})

	tests := []struct {
		name         string
		participants []Participant
		wantErr      string
	}{
		{"too few", testParticipants()[:1], "at least 2 participants"},
		{"empty id", []Participant{{ID: "", Role: "A"}, {ID: "b", Role: "B"}}, "ID cannot be empty"},
		{"empty role", []Participant{{ID: "a", Role: " "}, {ID: "b", Role: "B"}}, "role cannot be empty"},
		{"duplicate id", []Participant{{ID: "a", Role: "A"}, {ID: "a", Role: "B"}}, "duplicate participant ID"},
		{"duplicate role", []Participant{{ID: "a", Role: "Same"}, {ID: "b", Role: "same"}}, "share the role"},
		{"duplicate role after trim", []Participant{{ID: "a", Role: "Same"}, {ID: "b", Role: " same "}}, "share the role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoster(tt.participants)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRosterLookups(t *testing.T) {
	r, err := NewRoster(testParticipants())
	require.NoError(t, err)

	p, ok := r.Get("Nirbhay_R")
	require.True(t, ok)
	assert.Equal(t, "Nirbhay", p.Role)

	_, ok = r.Get("nobody")
	assert.False(t, ok)

	p, ok = r.ByRole("anagha ")
	require.True(t, ok)
	assert.Equal(t, "Anagha_Palandye", p.ID)

	_, ok = r.ByRole("Kanishkha")
	assert.False(t, ok)
}

func TestPrompts(t *testing.T) {
	p := Prompts{Action: " Speak briefly.", Bidding: "You have || credits. Again: ||."}
	anagha := testParticipants()[1]

	assert.Equal(t, "You are Anagha. Speak briefly.", p.SystemPrompt(anagha))
	assert.Equal(t, "You have 42 credits. Again: 42.", p.BiddingPrompt(42))
	assert.Equal(t,
		"Persona: You are Anagha.\n\nConversation History: \nGaurav: hi\n",
		p.BidUserMessage(anagha, "Gaurav: hi\n"))

	defaults := DefaultPrompts()
	assert.Contains(t, defaults.BiddingPrompt(7), "You have 7 credits left")
	assert.NotContains(t, defaults.BiddingPrompt(7), CreditsPlaceholder)
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	action := filepath.Join(dir, "sys_prompt.txt")
	require.NoError(t, os.WriteFile(action, []byte(" custom action"), 0o644))

	p, err := LoadPrompts(action, "")
	require.NoError(t, err)
	assert.Equal(t, " custom action", p.Action)
	assert.Equal(t, DefaultPrompts().Bidding, p.Bidding)

	_, err = LoadPrompts("", filepath.Join(dir, "missing.txt"))
	assert.ErrorContains(t, err, "failed to read bidding prompt")
}

func TestLoadPersonaPrompt(t *testing.T) {
	text, err := LoadPersonaPrompt("", "Anagha")
	require.NoError(t, err)
	assert.Equal(t, "You are Anagha.", text)

	path := filepath.Join(t.TempDir(), "anagha.txt")
	require.NoError(t, os.WriteFile(path, []byte("A data scientist."), 0o644))
	text, err = LoadPersonaPrompt(path, "Anagha")
	require.NoError(t, err)
	assert.Equal(t, "A data scientist.", text)

	_, err = LoadPersonaPrompt(filepath.Join(t.TempDir(), "nope.txt"), "Anagha")
	assert.Error(t, err)
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Anagha: I agree.", "I agree."},
		{"  Anagha : I agree.  ", "I agree."},
		{"No prefix here", "No prefix here"},
		{"Anagha: Gaurav: nested", "Gaurav: nested"},
		{"first line\nSecond: line", "first line\nSecond: line"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanResponse(tt.in), "input %q", tt.in)
	}
}

func TestRosterFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaurav.txt")
	require.NoError(t, os.WriteFile(path, []byte("A product manager."), 0o644))

	r, err := RosterFromConfig([]config.ParticipantConfig{
		{ID: "Gaurav_Atavale", Role: "Gaurav", PersonaPromptFile: path},
		{ID: "Anagha_Palandye", Role: "Anagha"},
	})
	require.NoError(t, err)

	g, _ := r.Get("Gaurav_Atavale")
	assert.Equal(t, "A product manager.", g.PersonaPrompt)
	a, _ := r.Get("Anagha_Palandye")
	assert.Equal(t, "You are Anagha.", a.PersonaPrompt)

	padded, err := RosterFromConfig([]config.ParticipantConfig{
		{ID: "Gaurav_Atavale", Role: "Gaurav"},
		{ID: "Anagha_Palandye", Role: " Anagha "},
	})
	require.NoError(t, err)
	a, ok := padded.ByRole("Anagha")
	require.True(t, ok)
	assert.Equal(t, "You are Anagha.", a.PersonaPrompt)

	_, err = RosterFromConfig([]config.ParticipantConfig{
		{ID: "x", Role: "X", PersonaPromptFile: filepath.Join(t.TempDir(), "missing.txt")},
		{ID: "y", Role: "Y"},
	})
	assert.Error(t, err)
}
