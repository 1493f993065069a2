// Package dice provides the randomness used to roll initiative.
//
// Everything random at the table flows through a Source so that callers can inject a
// seeded source for reproducible encounters and tests.
package dice

import "fmt"

// Source is the randomness provider for dice rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// Roll is the audit record of one die plus a flat modifier.
type Roll struct {
	Sides    int
	Natural  int
	Modifier int
}

// Total returns Natural + Modifier.
func (r Roll) Total() int { return r.Natural + r.Modifier }

// String renders the roll as "d20+3 → 14 = 17".
func (r Roll) String() string {
	return fmt.Sprintf("d%d%+d → %d = %d", r.Sides, r.Modifier, r.Natural, r.Total())
}

// Die rolls one die with the given number of sides and adds modifier.
//
// Precondition: sides >= 2; src must be non-nil.
// Postcondition: 1 <= result.Natural <= sides.
func Die(src Source, sides, modifier int) Roll {
	if sides < 2 {
		panic(fmt.Sprintf("dice: Die called with %d sides", sides))
	}
	return Roll{Sides: sides, Natural: src.Intn(sides) + 1, Modifier: modifier}
}
