package turn

import (
	"github.com/cory-johannsen/dmtable/internal/game/actor"
)

// Node identifies which execution node runs a turn.
type Node int

const (
	NodeNone Node = iota
	NodeDirector
	NodeParticipant
	NodeHuman
)

// String returns a human-readable node label.
func (n Node) String() string {
	switch n {
	case NodeDirector:
		return "director"
	case NodeParticipant:
		return "participant"
	case NodeHuman:
		return "human"
	default:
		return "none"
	}
}

// View is the slice of session state the Router reads.
type View struct {
	Director        actor.ID
	HumanProxy      actor.ID
	TurnOrder       []actor.ID
	CombatActive    bool
	InitiativeOrder []actor.ID
	Override        Override
}

// ActiveOrdering returns the initiative order while combat is active, else the turn order.
func (v View) ActiveOrdering() []actor.ID {
	if v.CombatActive {
		return v.InitiativeOrder
	}
	return v.TurnOrder
}

// Result is the outcome of one routing decision: either the round is complete, or the
// turn of Target is to be run by Next.
//
// Next differs from Target in two cases: an NPC reference is run by the director (which
// resolves the NPC from Target), and a human-controlled participant is run by the human
// proxy. Callers continue routing from Target, the position in the active ordering.
type Result struct {
	Complete bool
	Node     Node
	Next     actor.ID
	Target   actor.ID
	// Fallback is true when the current actor was missing from the active ordering and
	// the Router failed open to the director. Callers log it as a warning.
	Fallback bool
}

// RoundComplete is the terminal routing result.
var RoundComplete = Result{Complete: true}

// Route returns who acts after current.
//
// Postcondition: Returns RoundComplete when current is the last entry of the active
// ordering; Continue(director) with Fallback set when current is absent; otherwise the
// successor of current, rewritten to the human proxy when it is the controlled actor or
// to the director when it is an NPC reference.
func Route(current actor.ID, v View) Result {
	ordering := v.ActiveOrdering()

	idx := actor.IndexOf(ordering, current)
	if idx < 0 {
		return Result{Node: NodeDirector, Next: v.Director, Target: v.Director, Fallback: true}
	}
	if idx == len(ordering)-1 {
		return RoundComplete
	}
	return dispatch(ordering[idx+1], v)
}

// First returns the routing result that opens a round: the first entry of the active
// ordering, rewritten the same way Route rewrites successors.
//
// Postcondition: Returns RoundComplete only when the active ordering is empty.
func First(v View) Result {
	ordering := v.ActiveOrdering()
	if len(ordering) == 0 {
		return RoundComplete
	}
	return dispatch(ordering[0], v)
}

func dispatch(next actor.ID, v View) Result {
	switch {
	case v.Override.redirects(next, v.Director):
		return Result{Node: NodeHuman, Next: v.HumanProxy, Target: next}
	case next.IsNPC():
		return Result{Node: NodeDirector, Next: v.Director, Target: next}
	case next == v.Director:
		return Result{Node: NodeDirector, Next: next, Target: next}
	default:
		return Result{Node: NodeParticipant, Next: next, Target: next}
	}
}
