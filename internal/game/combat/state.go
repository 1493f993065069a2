// Package combat implements the combat overlay: an initiative order that replaces the
// exploration turn order while combat is active, plus the round counter and the profiles
// of the transient NPCs the director voices during the encounter.
//
// Every function takes a State by value and returns a new State; nothing is mutated in place.
package combat

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
)

var (
	// ErrInvalidCombatStart is returned when combat is started without any combatant.
	ErrInvalidCombatStart = errors.New("invalid combat start")
	// ErrCombatActive is returned when combat is started while an encounter is running.
	ErrCombatActive = errors.New("combat already active")
	// ErrNotActive is returned by operations that require an active encounter.
	ErrNotActive = errors.New("combat is not active")
	// ErrUnknownCombatant is returned when an actor is not part of the initiative order.
	ErrUnknownCombatant = errors.New("unknown combatant")
	// ErrDuplicateCombatant is returned when an NPC key is already in combat.
	ErrDuplicateCombatant = errors.New("combatant already in combat")
	// ErrDirectorRemoval is returned when the director is removed from the initiative order.
	ErrDirectorRemoval = errors.New("the director cannot leave combat")
	// ErrInvariant is returned by Validate when the state violates the overlay invariant.
	ErrInvariant = errors.New("combat state invariant violated")
)

// NpcProfile holds the ephemeral stats of a transient combatant.
// Profiles exist only while combat is active.
type NpcProfile struct {
	Key           string   `json:"key"`
	Name          string   `json:"name"`
	TemplateID    string   `json:"template_id,omitempty"`
	HP            int      `json:"hp"`
	MaxHP         int      `json:"max_hp"`
	Armor         int      `json:"armor"`
	InitiativeMod int      `json:"initiative_mod,omitempty"`
	Behavior      string   `json:"behavior,omitempty"`
	Status        []string `json:"status,omitempty"`
}

// IsDown reports whether the NPC has no hit points left.
func (p NpcProfile) IsDown() bool { return p.HP <= 0 }

func (p NpcProfile) clone() NpcProfile {
	p.Status = slices.Clone(p.Status)
	return p
}

// State is the combat sub-state of a session.
//
// Invariant: !Active implies every collection is empty and RoundNumber == 0.
// Active implies InitiativeOrder is non-empty and InitiativeOrder[0] is the director.
type State struct {
	Active      bool `json:"active"`
	RoundNumber int  `json:"round_number"`
	// InitiativeOrder is the combat ordering; position 0 is the director's round bookend.
	InitiativeOrder []actor.ID `json:"initiative_order,omitempty"`
	// InitiativeRolls is display and tie-break data; ordering decisions use InitiativeOrder only.
	InitiativeRolls map[actor.ID]int `json:"initiative_rolls,omitempty"`
	// OriginalTurnOrder is the exploration order snapshotted at combat start.
	OriginalTurnOrder []actor.ID            `json:"original_turn_order,omitempty"`
	NpcProfiles       map[string]NpcProfile `json:"npc_profiles,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.InitiativeOrder = slices.Clone(s.InitiativeOrder)
	out.InitiativeRolls = maps.Clone(s.InitiativeRolls)
	out.OriginalTurnOrder = slices.Clone(s.OriginalTurnOrder)
	if s.NpcProfiles != nil {
		out.NpcProfiles = make(map[string]NpcProfile, len(s.NpcProfiles))
		for k, p := range s.NpcProfiles {
			out.NpcProfiles[k] = p.clone()
		}
	}
	return out
}

// IsDefault reports whether s is indistinguishable from the zero State.
func (s State) IsDefault() bool {
	return !s.Active && s.RoundNumber == 0 &&
		len(s.InitiativeOrder) == 0 && len(s.InitiativeRolls) == 0 &&
		len(s.OriginalTurnOrder) == 0 && len(s.NpcProfiles) == 0
}

// Validate checks the overlay invariant against the given director.
//
// Postcondition: Returns nil iff the invariant holds, every NPC profile is filed under its
// own valid key, and every NPC reference in the initiative order belongs to director and
// has a profile.
func (s State) Validate(director actor.ID) error {
	if !s.Active {
		if !s.IsDefault() {
			return fmt.Errorf("%w: inactive combat carries leftover state", ErrInvariant)
		}
		return nil
	}
	if len(s.InitiativeOrder) == 0 {
		return fmt.Errorf("%w: active combat with empty initiative order", ErrInvariant)
	}
	if s.InitiativeOrder[0] != director {
		return fmt.Errorf("%w: initiative order starts with %s, want director %s",
			ErrInvariant, s.InitiativeOrder[0], director)
	}
	if s.RoundNumber < 1 {
		return fmt.Errorf("%w: active combat in round %d", ErrInvariant, s.RoundNumber)
	}
	for key, p := range s.NpcProfiles {
		if err := actor.ValidateKey(key); err != nil {
			return fmt.Errorf("%w: %w", ErrInvariant, err)
		}
		if p.Key != key {
			return fmt.Errorf("%w: profile %q filed under key %q", ErrInvariant, p.Key, key)
		}
	}
	for _, id := range s.InitiativeOrder[1:] {
		if !id.IsNPC() {
			continue
		}
		if id.Owner() != director {
			return fmt.Errorf("%w: %s is not voiced by director %s", ErrInvariant, id, director)
		}
		if _, ok := s.NpcProfiles[id.Name()]; !ok {
			return fmt.Errorf("%w: %s has no profile", ErrInvariant, id)
		}
	}
	return nil
}

// NpcByRef returns the profile of the NPC referenced by ref.
//
// Postcondition: Returns (profile, true) iff ref is an NPC reference with a profile.
func (s State) NpcByRef(ref actor.ID) (NpcProfile, bool) {
	if !ref.IsNPC() {
		return NpcProfile{}, false
	}
	p, ok := s.NpcProfiles[ref.Name()]
	if !ok {
		return NpcProfile{}, false
	}
	return p.clone(), true
}

// WithNpc returns a copy of s in which the profile with p.Key is replaced by p.
//
// Precondition: s.Active; a profile with p.Key must already exist.
func (s State) WithNpc(p NpcProfile) (State, error) {
	if !s.Active {
		return s, ErrNotActive
	}
	if _, ok := s.NpcProfiles[p.Key]; !ok {
		return s, fmt.Errorf("%w: npc %q", ErrUnknownCombatant, p.Key)
	}
	out := s.Clone()
	out.NpcProfiles[p.Key] = p.clone()
	return out, nil
}
