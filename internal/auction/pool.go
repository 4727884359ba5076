// Package auction implements the credit micro-auction that decides who speaks
// next: a per-participant credit pool and the winner resolution rules.
package auction

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidDebit is returned when a debit is negative, exceeds the remaining
// balance, or names an unknown participant.
var ErrInvalidDebit = errors.New("invalid debit")

// CreditPool tracks the remaining bidding budget of every participant.
// It is not safe for concurrent mutation; the auction is its only writer.
type CreditPool struct {
	credits map[string]int
	ids     []string
}

// NewCreditPool gives every participant the same initial balance.
func NewCreditPool(ids []string, initial int) (*CreditPool, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("credit pool needs at least one participant")
	}
	if initial < 0 {
		return nil, fmt.Errorf("initial credits cannot be negative: %d", initial)
	}

	credits := make(map[string]int, len(ids))
	for _, id := range ids {
		if _, dup := credits[id]; dup {
			return nil, fmt.Errorf("duplicate participant in credit pool: %s", id)
		}
		credits[id] = initial
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	return &CreditPool{credits: credits, ids: sorted}, nil
}

// Remaining returns the balance of id, or 0 for an unknown participant.
func (p *CreditPool) Remaining(id string) int {
	return p.credits[id]
}

// Debit removes amount from id's balance.
func (p *CreditPool) Debit(id string, amount int) error {
	remaining, ok := p.credits[id]
	if !ok {
		return fmt.Errorf("%w: unknown participant %q", ErrInvalidDebit, id)
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative amount %d for %s", ErrInvalidDebit, amount, id)
	}
	if amount > remaining {
		return fmt.Errorf("%w: %s has %d credits, cannot debit %d", ErrInvalidDebit, id, remaining, amount)
	}
	p.credits[id] = remaining - amount
	return nil
}

// AnyPositive reports whether at least one participant can still bid.
func (p *CreditPool) AnyPositive() bool {
	for _, c := range p.credits {
		if c > 0 {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of all balances.
func (p *CreditPool) Snapshot() map[string]int {
	out := make(map[string]int, len(p.credits))
	for id, c := range p.credits {
		out[id] = c
	}
	return out
}

// IDs returns the participant IDs in canonical (sorted) order.
func (p *CreditPool) IDs() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}
