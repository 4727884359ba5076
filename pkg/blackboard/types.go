// Package blackboard provides the shared wire types of agora and a Redis client
// that fans them out to other processes. Stream events describe what observers
// see of a conversation; round events and run records describe how the auction
// got there.
//
// All Redis keys and channels are namespaced by instance name so that several
// simulations can share one Redis server.
package blackboard

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType identifies one of the stream events sent to observers.
type EventType string

const (
	// EventMessageStart announces that a speaker has been granted the turn
	EventMessageStart EventType = "message_start"

	// EventChunk carries an incremental piece of the speaker's text
	EventChunk EventType = "chunk"

	// EventMessageEnd carries the final, complete text of a turn
	EventMessageEnd EventType = "message_end"

	// EventDone marks the end of the stream
	EventDone EventType = "done"

	// EventError reports an unrecoverable failure; the stream ends after it
	EventError EventType = "error"
)

// Validate checks if the EventType is a known value.
func (t EventType) Validate() error {
	switch t {
	case EventMessageStart, EventChunk, EventMessageEnd, EventDone, EventError:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", string(t))
	}
}

// Terminal reports whether no further events follow this one.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError
}

// Event is a single stream event. Only the fields relevant to Type are set
// and serialised.
type Event struct {
	Type    EventType `json:"type"`
	Speaker string    `json:"speaker,omitempty"` // message_start, chunk, message_end
	Delta   string    `json:"delta,omitempty"`   // chunk
	Text    string    `json:"text,omitempty"`    // message_end
	Detail  string    `json:"detail,omitempty"`  // error
}

// MessageStart creates a message_start event for speaker.
func MessageStart(speaker string) Event {
	return Event{Type: EventMessageStart, Speaker: speaker}
}

// Chunk creates a chunk event carrying delta.
func Chunk(speaker, delta string) Event {
	return Event{Type: EventChunk, Speaker: speaker, Delta: delta}
}

// MessageEnd creates a message_end event carrying the full text of a turn.
func MessageEnd(speaker, text string) Event {
	return Event{Type: EventMessageEnd, Speaker: speaker, Text: text}
}

// Done creates the final event of a stream.
func Done() Event {
	return Event{Type: EventDone}
}

// Failure creates an error event.
func Failure(detail string) Event {
	return Event{Type: EventError, Detail: detail}
}

// MarshalJSON writes exactly the fields that belong to the event's type, so
// that text and delta are present even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventMessageStart:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Speaker string    `json:"speaker"`
		}{e.Type, e.Speaker})
	case EventChunk:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Speaker string    `json:"speaker"`
			Delta   string    `json:"delta"`
		}{e.Type, e.Speaker, e.Delta})
	case EventMessageEnd:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Speaker string    `json:"speaker"`
			Text    string    `json:"text"`
		}{e.Type, e.Speaker, e.Text})
	case EventError:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Detail string    `json:"detail"`
		}{e.Type, e.Detail})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// Validate checks that the event carries the fields its type requires.
func (e Event) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}
	switch e.Type {
	case EventMessageStart, EventChunk, EventMessageEnd:
		if e.Speaker == "" {
			return fmt.Errorf("%s event requires a speaker", e.Type)
		}
	}
	return nil
}

// RoundOutcome records how an auction round ended.
type RoundOutcome string

const (
	// RoundOutcomeGranted means a participant won the turn
	RoundOutcomeGranted RoundOutcome = "granted"

	// RoundOutcomeNoViableBid means the round was skipped
	RoundOutcomeNoViableBid RoundOutcome = "no_viable_bid"
)

// Validate checks if the RoundOutcome is a known value.
func (o RoundOutcome) Validate() error {
	switch o {
	case RoundOutcomeGranted, RoundOutcomeNoViableBid:
		return nil
	default:
		return fmt.Errorf("unknown round outcome: %q", string(o))
	}
}

// RoundEvent describes one resolved auction round. It is published for
// monitoring and kept in Redis for inspection; it is never read back by the
// scheduler.
type RoundEvent struct {
	RunID       string         `json:"run_id"`           // UUID of the run this round belongs to
	Round       int            `json:"round"`            // 1-based round number within the run
	Outcome     RoundOutcome   `json:"outcome"`          // granted or no_viable_bid
	Bids        map[string]int `json:"bids"`             // participant ID -> bid amount, zeros included
	Winner      string         `json:"winner,omitempty"` // participant ID, empty when skipped
	WinningBid  int            `json:"winning_bid"`      // credits debited from the winner
	Credits     map[string]int `json:"credits"`          // remaining credits after the round
	TimestampMs int64          `json:"timestamp_ms"`     // Unix milliseconds when the round resolved
}

// Validate checks if the RoundEvent has valid field values.
func (r *RoundEvent) Validate() error {
	if !isValidUUID(r.RunID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}
	if r.Round < 1 {
		return fmt.Errorf("invalid round: must be >= 1, got %d", r.Round)
	}
	if err := r.Outcome.Validate(); err != nil {
		return fmt.Errorf("invalid outcome: %w", err)
	}
	if r.Outcome == RoundOutcomeGranted {
		if _, ok := r.Bids[r.Winner]; !ok {
			return fmt.Errorf("winner %q has no bid", r.Winner)
		}
		if r.WinningBid <= 0 {
			return fmt.Errorf("granted round must have a positive winning bid, got %d", r.WinningBid)
		}
	}
	return nil
}

// RunStatus is the lifecycle state of a simulation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Validate checks if the RunStatus is a known value.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusDone, RunStatusCancelled, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown run status: %q", string(s))
	}
}

// Run is the record of one simulation run.
type Run struct {
	ID           string    `json:"id"`                    // UUID
	Status       RunStatus `json:"status"`                // Current lifecycle state
	StopReason   string    `json:"stop_reason,omitempty"` // Why the run reached Done
	Participants []string  `json:"participants"`          // Participant IDs in canonical order
	Rounds       int       `json:"rounds"`                // Rounds attempted so far
	Turns        int       `json:"turns"`                 // Entries appended to the ledger
	StartedAtMs  int64     `json:"started_at_ms"`
	EndedAtMs    int64     `json:"ended_at_ms,omitempty"`
}

// Validate checks if the Run has valid field values.
func (r *Run) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if len(r.Participants) < 2 {
		return fmt.Errorf("run needs at least 2 participants, got %d", len(r.Participants))
	}
	if r.Rounds < 0 || r.Turns < 0 {
		return fmt.Errorf("round and turn counts cannot be negative")
	}
	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
