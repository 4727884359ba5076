// Package filter selects stored runs for listing.
package filter

import (
	"path/filepath"

	"github.com/dyluth/agora/pkg/blackboard"
)

// Criteria defines filtering criteria for runs.
// All filters are ANDed together - a run must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64                // Started at or after, 0 = no filter
	UntilTimestampMs int64                // Started at or before, 0 = no filter
	Status           blackboard.RunStatus // Exact status, empty = no filter
	StopReasonGlob   string               // Glob on stop_reason, empty = no filter
}

// Matches reports whether the run matches all criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(run *blackboard.Run) bool {
	if c.SinceTimestampMs > 0 && run.StartedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && run.StartedAtMs > c.UntilTimestampMs {
		return false
	}
	if c.Status != "" && run.Status != c.Status {
		return false
	}
	if c.StopReasonGlob != "" {
		matched, err := filepath.Match(c.StopReasonGlob, run.StopReason)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.Status != "" ||
		c.StopReasonGlob != ""
}

// Runs returns the runs matching c, preserving order.
func (c *Criteria) Runs(runs []*blackboard.Run) []*blackboard.Run {
	if !c.HasFilters() {
		return runs
	}
	out := make([]*blackboard.Run, 0, len(runs))
	for _, r := range runs {
		if c.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
