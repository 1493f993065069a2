// Package round runs one full round of the table: it asks the router who acts next,
// invokes that actor's executor, and repeats until the active ordering is exhausted.
//
// The coordinator owns the round boundary. Combat rounds advance when a round opens
// while combat carried over from the previous round, and the configured maximum of
// combat rounds is enforced there.
package round

import (
	"context"
	"errors"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
)

var (
	// ErrIterationLimitExceeded is returned when a round runs more turns than its ordering allows.
	ErrIterationLimitExceeded = errors.New("round iteration limit exceeded")
	// ErrNoExecutor is returned when the router selects a node that has no executor.
	ErrNoExecutor = errors.New("no executor for node")
	// ErrInvalidTurnResult is returned when an executor hands back an invalid state.
	ErrInvalidTurnResult = errors.New("executor returned an invalid state")
)

// guardSlack is added to the length of the longest ordering to bound the turns of one round.
const guardSlack = 4

// Turn describes the turn an executor is asked to run.
type Turn struct {
	// Node is the kind of executor running the turn.
	Node turn.Node
	// Actor is the actor running the turn: the director for NPC references, the human
	// proxy for a controlled participant.
	Actor actor.ID
	// Target is the position in the active ordering whose turn this is.
	Target actor.ID
	// Round is the table round, starting at 1.
	Round int
	// CombatRound is the combat round number, or 0 outside combat.
	CombatRound int
}

// IsNPC reports whether the turn belongs to an NPC voiced by the director.
func (t Turn) IsNPC() bool { return t.Target.IsNPC() }

// Executor runs one actor's turn.
//
// Implementations receive a clone of the session and return the complete new state
// together with the text the actor produced. The coordinator appends that text to the
// transcript under Turn.Target and never merges partial states.
type Executor interface {
	ExecuteTurn(ctx context.Context, t Turn, st session.State) (session.State, string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t Turn, st session.State) (session.State, string, error)

// ExecuteTurn calls f.
func (f ExecutorFunc) ExecuteTurn(ctx context.Context, t Turn, st session.State) (session.State, string, error) {
	return f(ctx, t, st)
}

// Checkpointer persists the state after every turn.
type Checkpointer interface {
	Checkpoint(ctx context.Context, st session.State, round int) error
}

// Hooks are consulted at round and combat boundaries. A non-empty return value is
// appended to the transcript as a system notice.
type Hooks interface {
	OnRoundStart(round int) string
	OnCombatStart(combatants int) string
	OnCombatEnd(reason string) string
}

// Combat end reasons passed to Hooks.OnCombatEnd.
const (
	EndedByDirector  = "director"
	EndedByMaxRounds = "max_rounds"
)

// Phase is the coordinator's position within a round.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActorExecuting
	PhaseRouted
	PhaseRoundComplete
)

// String returns the phase label used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseActorExecuting:
		return "actor_executing"
	case PhaseRouted:
		return "routed"
	case PhaseRoundComplete:
		return "round_complete"
	default:
		return "idle"
	}
}

// Observer is notified of every phase transition. For PhaseRouted the Turn is the one
// about to run; for PhaseIdle and PhaseRoundComplete it is the zero Turn.
type Observer func(p Phase, t Turn, st session.State)
