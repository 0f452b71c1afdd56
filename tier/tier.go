// Package tier maps file sizes to fee brackets.
package tier

import (
	"errors"
	"fmt"
)

// Tier is one fee bracket. Min and Max are inclusive byte bounds.
//
// EventIndex is the numeric tier identifier reported by the on-chain burn
// event; it must be unique within a schedule.
//
// Fee amounts are decimal strings in the stable unit of account, kept as
// strings so they round-trip without precision loss.
type Tier struct {
	ID         string `json:"id"`
	EventIndex uint8  `json:"eventIndex"`
	MinBytes   uint64 `json:"minBytes"`
	MaxBytes   uint64 `json:"maxBytes"`
	Fee        string `json:"fee"`
	Label      string `json:"label"`
}

// Contains reports whether n falls inside the tier's inclusive range.
func (t Tier) Contains(n uint64) bool {
	return n >= t.MinBytes && n <= t.MaxBytes
}

// Schedule is an ordered list of non-overlapping tiers.
type Schedule []Tier

const mib = 1 << 20

// Default is the built-in fee schedule. Fees are in micro-units of the stable
// account currency (6 decimals).
func Default() Schedule {
	return Schedule{
		{ID: "micro", EventIndex: 1, MinBytes: 0, MaxBytes: 50 * mib, Fee: "1000000", Label: "Micro (up to 50 MiB)"},
		{ID: "standard", EventIndex: 2, MinBytes: 50*mib + 1, MaxBytes: 500 * mib, Fee: "5000000", Label: "Standard (up to 500 MiB)"},
		{ID: "large", EventIndex: 3, MinBytes: 500*mib + 1, MaxBytes: 2048 * mib, Fee: "15000000", Label: "Large (up to 2 GiB)"},
	}
}

// Validate enforces the schedule invariants: at least one tier, ascending
// contiguous-or-gapped non-overlapping ranges, Min <= Max, unique IDs and
// event indexes.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return errors.New("tier: empty schedule")
	}
	ids := make(map[string]struct{}, len(s))
	idx := make(map[uint8]struct{}, len(s))
	for i, t := range s {
		if t.ID == "" {
			return fmt.Errorf("tier: tier %d missing id", i)
		}
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("tier: duplicate id %q", t.ID)
		}
		ids[t.ID] = struct{}{}
		if _, dup := idx[t.EventIndex]; dup {
			return fmt.Errorf("tier: duplicate event index %d", t.EventIndex)
		}
		idx[t.EventIndex] = struct{}{}
		if t.MinBytes > t.MaxBytes {
			return fmt.Errorf("tier: %q has min > max", t.ID)
		}
		if i > 0 && t.MinBytes <= s[i-1].MaxBytes {
			return fmt.Errorf("tier: %q overlaps %q", t.ID, s[i-1].ID)
		}
	}
	return nil
}

// ResolveBySize returns the tier whose range contains n.
//
// Sizes beyond the largest tier's upper bound resolve to nothing; callers must
// reject the transfer rather than default to the largest tier.
func (s Schedule) ResolveBySize(n uint64) (Tier, bool) {
	for _, t := range s {
		if t.Contains(n) {
			return t, true
		}
	}
	return Tier{}, false
}

// ByID returns the tier with the given id.
func (s Schedule) ByID(id string) (Tier, bool) {
	for _, t := range s {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

// Smallest returns the tier with the lowest byte range. The free monthly
// allowance is only valid for this tier.
func (s Schedule) Smallest() (Tier, bool) {
	if len(s) == 0 {
		return Tier{}, false
	}
	min := s[0]
	for _, t := range s[1:] {
		if t.MinBytes < min.MinBytes {
			min = t
		}
	}
	return min, true
}
