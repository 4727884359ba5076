package blackboard

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"message_start", MessageStart("Anagha"), `{"type":"message_start","speaker":"Anagha"}`},
		{"chunk", Chunk("Anagha", "Hel"), `{"type":"chunk","speaker":"Anagha","delta":"Hel"}`},
		{"message_end keeps empty text", MessageEnd("Anagha", ""), `{"type":"message_end","speaker":"Anagha","text":""}`},
		{"done", Done(), `{"type":"done"}`},
		{"error", Failure("ledger unavailable"), `{"type":"error","detail":"ledger unavailable"}`},
		{"stray fields are dropped", Event{Type: EventMessageStart, Speaker: "A", Text: "x"}, `{"type":"message_start","speaker":"A"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, MessageStart("A").Validate())
	assert.NoError(t, Done().Validate())
	assert.NoError(t, Failure("").Validate())

	err := MessageEnd("", "text").Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires a speaker")

	err = Event{Type: "bogus"}.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestEventTypeTerminal(t *testing.T) {
	assert.True(t, EventDone.Terminal())
	assert.True(t, EventError.Terminal())
	assert.False(t, EventChunk.Terminal())
	assert.False(t, EventMessageEnd.Terminal())
}

func validRound() *RoundEvent {
	return &RoundEvent{
		RunID:       uuid.New().String(),
		Round:       1,
		Outcome:     RoundOutcomeGranted,
		Bids:        map[string]int{"x": 7, "y": 7},
		Winner:      "y",
		WinningBid:  7,
		Credits:     map[string]int{"x": 10, "y": 3},
		TimestampMs: 1700000000000,
	}
}

func TestRoundEventValidate(t *testing.T) {
	t.Run("valid granted round", func(t *testing.T) {
		assert.NoError(t, validRound().Validate())
	})

	t.Run("valid skipped round", func(t *testing.T) {
		r := validRound()
		r.Outcome = RoundOutcomeNoViableBid
		r.Winner = ""
		r.WinningBid = 0
		assert.NoError(t, r.Validate())
	})

	t.Run("rejects bad run id", func(t *testing.T) {
		r := validRound()
		r.RunID = "not-a-uuid"
		assert.ErrorContains(t, r.Validate(), "invalid run ID")
	})

	t.Run("rejects round zero", func(t *testing.T) {
		r := validRound()
		r.Round = 0
		assert.ErrorContains(t, r.Validate(), "must be >= 1")
	})

	t.Run("rejects winner without a bid", func(t *testing.T) {
		r := validRound()
		r.Winner = "z"
		assert.ErrorContains(t, r.Validate(), "has no bid")
	})

	t.Run("rejects granted round with zero bid", func(t *testing.T) {
		r := validRound()
		r.WinningBid = 0
		assert.ErrorContains(t, r.Validate(), "positive winning bid")
	})
}

func TestRunValidate(t *testing.T) {
	run := &Run{
		ID:           uuid.New().String(),
		Status:       RunStatusRunning,
		Participants: []string{"x", "y"},
	}
	assert.NoError(t, run.Validate())

	run.Status = "paused"
	assert.ErrorContains(t, run.Validate(), "invalid status")

	run.Status = RunStatusDone
	run.Participants = []string{"x"}
	assert.ErrorContains(t, run.Validate(), "at least 2 participants")
}
