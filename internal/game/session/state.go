// Package session holds the full state of a table session: the exploration turn order,
// the combat overlay, the human override, the round cursor and the transcript.
//
// State is a value type. Executors receive a clone and return a complete new State; the
// coordinator never merges partial results.
package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
)

// DefaultHumanProxy is the actor id of the human-proxy node when none is configured.
const DefaultHumanProxy = "human"

// ErrInvalidState is returned by Validate.
var ErrInvalidState = errors.New("invalid session state")

// Entry is one line of the transcript.
type Entry struct {
	// Speaker is the actor whose turn produced the line; zero for system notices.
	Speaker actor.ID `json:"speaker,omitempty"`
	Text    string   `json:"text"`
	// System marks host and engine notices that no actor said.
	System bool `json:"system,omitempty"`
	// Round is the number of completed rounds when the entry was appended.
	Round int `json:"round"`
}

// State is the complete session state threaded through every turn.
type State struct {
	ID         uuid.UUID `json:"id"`
	Director   actor.ID  `json:"director"`
	HumanProxy actor.ID  `json:"human_proxy"`
	// Scene is free-form context the director keeps about the current situation.
	Scene     string        `json:"scene,omitempty"`
	TurnOrder []actor.ID    `json:"turn_order"`
	Combat    combat.State  `json:"combat"`
	Override  turn.Override `json:"human_override"`

	// CurrentActor is the ordering position whose turn ran last. Together with RoundOpen
	// it lets an interrupted round resume where it stopped.
	CurrentActor actor.ID `json:"current_actor,omitempty"`
	// RoundOpen is true while a round is in progress.
	RoundOpen bool `json:"round_open"`
	// CombatCarried is true when combat was active at the end of the previous round, so
	// the next round starts at a combat round boundary.
	CombatCarried   bool `json:"combat_carried,omitempty"`
	RoundsCompleted int  `json:"rounds_completed"`

	Transcript []Entry `json:"transcript,omitempty"`
}

// New creates a session with a fresh id.
//
// Precondition: order must satisfy turn.ValidateOrder and contain director.
// Postcondition: Returns a State with combat inactive and the override disabled, or an
// error wrapping ErrInvalidState.
func New(director, humanProxy actor.ID, order []actor.ID) (State, error) {
	if humanProxy.IsZero() {
		humanProxy = actor.Plain(DefaultHumanProxy)
	}
	s := State{
		ID:         uuid.New(),
		Director:   director,
		HumanProxy: humanProxy,
		TurnOrder:  turn.CloneOrder(order),
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}

// Validate checks every state invariant.
func (s State) Validate() error {
	if s.Director.IsZero() || s.Director.IsNPC() {
		return fmt.Errorf("%w: director %q must be a plain actor", ErrInvalidState, s.Director)
	}
	if s.HumanProxy.IsNPC() || (!s.HumanProxy.IsZero() && s.HumanProxy == s.Director) {
		return fmt.Errorf("%w: human proxy %q", ErrInvalidState, s.HumanProxy)
	}
	if err := turn.ValidateOrder(s.TurnOrder); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if !s.HumanProxy.IsZero() && slices.Contains(s.TurnOrder, s.HumanProxy) {
		return fmt.Errorf("%w: human proxy %s must not take turns of its own", ErrInvalidState, s.HumanProxy)
	}
	if !slices.Contains(s.TurnOrder, s.Director) {
		return fmt.Errorf("%w: director %s missing from turn order", ErrInvalidState, s.Director)
	}
	if err := s.Combat.Validate(s.Director); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if err := s.Override.Validate(s.Director); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if s.RoundsCompleted < 0 {
		return fmt.Errorf("%w: negative rounds completed", ErrInvalidState)
	}
	return nil
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.TurnOrder = slices.Clone(s.TurnOrder)
	out.Combat = s.Combat.Clone()
	out.Transcript = slices.Clone(s.Transcript)
	return out
}

// RoutingView returns the part of s the router reads.
func (s State) RoutingView() turn.View {
	return turn.View{
		Director:        s.Director,
		HumanProxy:      s.HumanProxy,
		TurnOrder:       s.TurnOrder,
		CombatActive:    s.Combat.Active,
		InitiativeOrder: s.Combat.InitiativeOrder,
		Override:        s.Override,
	}
}

// Say returns a copy of s with an utterance by speaker appended to the transcript.
// Empty text is dropped.
func (s State) Say(speaker actor.ID, text string) State {
	if text == "" {
		return s
	}
	out := s
	out.Transcript = append(slices.Clip(s.Transcript), Entry{Speaker: speaker, Text: text, Round: s.RoundsCompleted})
	return out
}

// Notice returns a copy of s with a system notice appended to the transcript.
func (s State) Notice(text string) State {
	if text == "" {
		return s
	}
	out := s
	out.Transcript = append(slices.Clip(s.Transcript), Entry{Text: text, System: true, Round: s.RoundsCompleted})
	return out
}

// Recent returns up to n of the latest transcript entries.
func (s State) Recent(n int) []Entry {
	if n <= 0 || len(s.Transcript) == 0 {
		return nil
	}
	start := max(len(s.Transcript)-n, 0)
	return slices.Clone(s.Transcript[start:])
}

// StartCombat enters combat from the current turn order.
//
// Postcondition: Returns combat.ErrCombatActive when an encounter is already running,
// or the combat.StartCombat error; s is never modified.
func (s State) StartCombat(npcs []combat.NpcProfile, roller combat.InitiativeRoller) (State, error) {
	if s.Combat.Active {
		return s, combat.ErrCombatActive
	}
	cs, err := combat.StartCombat(s.Director, s.TurnOrder, npcs, roller)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	out.Combat = cs
	return out, nil
}

// EndCombat leaves combat and restores the exploration order snapshotted at start.
//
// Postcondition: restored is false when combat was active but the snapshot was empty;
// TurnOrder is then left untouched and the caller should log it. Ending inactive combat
// returns s unchanged with restored true.
func (s State) EndCombat() (out State, restored bool) {
	if !s.Combat.Active {
		return s, true
	}
	out = s.Clone()
	ended, order := combat.EndCombat(s.Combat)
	out.Combat = ended
	if order == nil {
		return out, false
	}
	out.TurnOrder = order
	return out, true
}

// Join adds a participant to the end of the exploration order. During combat the
// participant is also appended to the snapshot so it survives the restore.
func (s State) Join(id actor.ID) (State, error) {
	if id.IsZero() || id.IsNPC() {
		return s, fmt.Errorf("%w: cannot join %q", ErrInvalidState, id)
	}
	if slices.Contains(s.TurnOrder, id) {
		return s, fmt.Errorf("%w: %s already at the table", ErrInvalidState, id)
	}
	if id == s.HumanProxy {
		return s, fmt.Errorf("%w: %s is the human proxy", ErrInvalidState, id)
	}
	out := s.Clone()
	out.TurnOrder = append(out.TurnOrder, id)
	if out.Combat.Active && len(out.Combat.OriginalTurnOrder) > 0 {
		out.Combat.OriginalTurnOrder = append(out.Combat.OriginalTurnOrder, id)
	}
	return out, nil
}

// Leave removes a participant from the exploration order, the combat snapshot and the
// initiative order. The override is disabled when it controlled the leaving actor.
func (s State) Leave(id actor.ID) (State, error) {
	if id == s.Director {
		return s, fmt.Errorf("%w: the director cannot leave", ErrInvalidState)
	}
	idx := actor.IndexOf(s.TurnOrder, id)
	if idx < 0 {
		return s, fmt.Errorf("%w: %s is not at the table", ErrInvalidState, id)
	}
	out := s.Clone()
	out.TurnOrder = slices.Delete(out.TurnOrder, idx, idx+1)
	if out.Combat.Active {
		if i := actor.IndexOf(out.Combat.OriginalTurnOrder, id); i >= 0 {
			out.Combat.OriginalTurnOrder = slices.Delete(out.Combat.OriginalTurnOrder, i, i+1)
		}
		if actor.IndexOf(out.Combat.InitiativeOrder, id) > 0 {
			cs, err := combat.RemoveCombatant(out.Combat, out.Director, id)
			if err != nil {
				return s, err
			}
			out.Combat = cs
		}
	}
	if out.Override.Enabled && out.Override.ControlledActor == id {
		out.Override = turn.Override{}
	}
	return out, nil
}
