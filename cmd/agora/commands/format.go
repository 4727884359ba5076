package commands

import (
	"fmt"
	"sort"
	"strings"
)

// formatCredits renders credits as "A=3, B=0" in name order.
func formatCredits(credits map[string]int) string {
	if len(credits) == 0 {
		return "none"
	}
	ids := make([]string, 0, len(credits))
	for id := range credits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%d", id, credits[id])
	}
	return strings.Join(parts, ", ")
}
