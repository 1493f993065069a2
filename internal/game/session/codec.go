package session

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
)

// Encode serialises s as JSON.
func Encode(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	return data, nil
}

// Decode parses a JSON session and normalises it so that states written before a field
// existed load with that field at its default.
//
// Postcondition: A missing combat block yields inactive combat; a missing override yields
// a disabled override; a missing human proxy yields DefaultHumanProxy. An inactive combat
// block carrying leftover data is reset. The result is validated.
func Decode(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decoding session: %w", err)
	}
	s = Normalize(s)
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("decoding session %s: %w", s.ID, err)
	}
	return s, nil
}

// Normalize fills defaults for fields an older state may lack.
func Normalize(s State) State {
	if s.HumanProxy.IsZero() {
		s.HumanProxy = actor.Plain(DefaultHumanProxy)
	}
	if !s.Combat.Active && !s.Combat.IsDefault() {
		s.Combat = combat.State{}
	}
	if !s.Override.Enabled {
		s.Override = turn.Override{}
	}
	if !s.Combat.Active {
		s.CombatCarried = false
	}
	return s
}
