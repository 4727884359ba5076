package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Maps and slices are
// JSON-encoded into single hash fields.

// RunToHash converts a Run to a Redis hash.
func RunToHash(r *Run) (map[string]interface{}, error) {
	participantsJSON, err := json.Marshal(r.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	return map[string]interface{}{
		"id":            r.ID,
		"status":        string(r.Status),
		"stop_reason":   r.StopReason,
		"participants":  string(participantsJSON),
		"rounds":        r.Rounds,
		"turns":         r.Turns,
		"started_at_ms": r.StartedAtMs,
		"ended_at_ms":   r.EndedAtMs,
	}, nil
}

// HashToRun converts a Redis hash to a Run.
func HashToRun(hash map[string]string) (*Run, error) {
	rounds, err := strconv.Atoi(hash["rounds"])
	if err != nil {
		return nil, fmt.Errorf("invalid rounds field: %w", err)
	}
	turns, err := strconv.Atoi(hash["turns"])
	if err != nil {
		return nil, fmt.Errorf("invalid turns field: %w", err)
	}

	var participants []string
	if raw := hash["participants"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}
	if participants == nil {
		participants = []string{}
	}

	startedAtMs, _ := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	endedAtMs, _ := strconv.ParseInt(hash["ended_at_ms"], 10, 64)

	return &Run{
		ID:           hash["id"],
		Status:       RunStatus(hash["status"]),
		StopReason:   hash["stop_reason"],
		Participants: participants,
		Rounds:       rounds,
		Turns:        turns,
		StartedAtMs:  startedAtMs,
		EndedAtMs:    endedAtMs,
	}, nil
}

// RoundToHash converts a RoundEvent to a Redis hash.
func RoundToHash(r *RoundEvent) (map[string]interface{}, error) {
	bidsJSON, err := json.Marshal(r.Bids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bids: %w", err)
	}
	creditsJSON, err := json.Marshal(r.Credits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credits: %w", err)
	}

	return map[string]interface{}{
		"run_id":       r.RunID,
		"round":        r.Round,
		"outcome":      string(r.Outcome),
		"bids":         string(bidsJSON),
		"winner":       r.Winner,
		"winning_bid":  r.WinningBid,
		"credits":      string(creditsJSON),
		"timestamp_ms": r.TimestampMs,
	}, nil
}

// HashToRound converts a Redis hash to a RoundEvent.
func HashToRound(hash map[string]string) (*RoundEvent, error) {
	round, err := strconv.Atoi(hash["round"])
	if err != nil {
		return nil, fmt.Errorf("invalid round field: %w", err)
	}
	winningBid, err := strconv.Atoi(hash["winning_bid"])
	if err != nil {
		return nil, fmt.Errorf("invalid winning_bid field: %w", err)
	}

	bids := map[string]int{}
	if raw := hash["bids"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &bids); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bids: %w", err)
		}
	}
	credits := map[string]int{}
	if raw := hash["credits"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &credits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credits: %w", err)
		}
	}

	timestampMs, _ := strconv.ParseInt(hash["timestamp_ms"], 10, 64)

	return &RoundEvent{
		RunID:       hash["run_id"],
		Round:       round,
		Outcome:     RoundOutcome(hash["outcome"]),
		Bids:        bids,
		Winner:      hash["winner"],
		WinningBid:  winningBid,
		Credits:     credits,
		TimestampMs: timestampMs,
	}, nil
}
