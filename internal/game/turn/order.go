// Package turn decides who acts next at the table.
//
// The Router is a pure function over a View of the session: the exploration turn order,
// the combat initiative order when combat is active, and the human override. It never
// mutates state and has no randomness, so for a fixed sequence of actor outputs the
// sequence of routing decisions is deterministic.
package turn

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
)

// ErrEmptyOrder is returned when a turn order has no entries.
var ErrEmptyOrder = errors.New("turn order must not be empty")

// ErrNPCInOrder is returned when a turn order contains an NPC reference.
var ErrNPCInOrder = errors.New("turn order must only contain plain actors")

// ErrInvalidOverride is returned when a human override targets an actor it may not control.
var ErrInvalidOverride = errors.New("invalid human override")

// ValidateOrder checks the exploration turn order invariant.
//
// Postcondition: Returns nil iff order is non-empty and every element is a non-empty plain ID.
func ValidateOrder(order []actor.ID) error {
	if len(order) == 0 {
		return ErrEmptyOrder
	}
	for i, id := range order {
		if id.IsZero() {
			return fmt.Errorf("turn order position %d: %w", i, actor.ErrEmpty)
		}
		if id.IsNPC() {
			return fmt.Errorf("turn order position %d (%s): %w", i, id, ErrNPCInOrder)
		}
	}
	return nil
}

// CloneOrder returns a copy of order that shares no backing array with it.
// A nil or empty input yields nil.
func CloneOrder(order []actor.ID) []actor.ID {
	if len(order) == 0 {
		return nil
	}
	out := make([]actor.ID, len(order))
	copy(out, order)
	return out
}

// Override is the session-scoped human takeover of one participant.
// It is set and cleared by the host; the Router only reads it.
type Override struct {
	Enabled         bool     `json:"enabled"`
	ControlledActor actor.ID `json:"controlled_actor"`
}

// Validate checks that the override only ever references a plain participant.
//
// Postcondition: Returns nil when the override is disabled, or when ControlledActor is a
// non-empty plain ID different from director.
func (o Override) Validate(director actor.ID) error {
	if !o.Enabled {
		return nil
	}
	switch {
	case o.ControlledActor.IsZero():
		return fmt.Errorf("%w: no controlled actor", ErrInvalidOverride)
	case o.ControlledActor.IsNPC():
		return fmt.Errorf("%w: %s is an NPC reference", ErrInvalidOverride, o.ControlledActor)
	case o.ControlledActor == director:
		return fmt.Errorf("%w: the director cannot be controlled", ErrInvalidOverride)
	}
	return nil
}

// redirects reports whether next should be handed to the human proxy.
func (o Override) redirects(next, director actor.ID) bool {
	return o.Enabled && !next.IsNPC() && next != director && next == o.ControlledActor
}
