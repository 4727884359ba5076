// Package resolver expands short run ID prefixes typed on the command line.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/agora/pkg/blackboard"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// maxListed caps how many candidates FormatAmbiguousError prints.
const maxListed = 10

// RunIndex looks up stored runs. *blackboard.Client implements it.
type RunIndex interface {
	GetRun(ctx context.Context, runID string) (*blackboard.Run, error)
	ScanRunIDs(ctx context.Context, prefix string) ([]string, error)
}

// ResolveRunID resolves a short ID prefix to a full run ID.
//
// A full UUID is checked for existence and returned as-is. Anything shorter
// than MinShortIDLength is rejected. Otherwise the prefix must match exactly
// one stored run.
func ResolveRunID(ctx context.Context, runs RunIndex, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))

	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		_, err := runs.GetRun(ctx, shortID)
		if blackboard.IsNotFound(err) {
			return "", &NotFoundError{ShortID: shortID}
		}
		if err != nil {
			return "", fmt.Errorf("failed to verify run existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := runs.ScanRunIDs(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for run: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no runs matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no runs found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple runs matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d runs", e.ShortID, len(e.Matches))
}

// Candidates lists the matching IDs for display, truncated with a
// "...and N more" line.
func (e *AmbiguousError) Candidates() []string {
	n := min(len(e.Matches), maxListed)
	out := append([]string(nil), e.Matches[:n]...)
	if len(e.Matches) > maxListed {
		out = append(out, fmt.Sprintf("...and %d more", len(e.Matches)-maxListed))
	}
	return out
}
