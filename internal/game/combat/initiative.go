package combat

import (
	"sort"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/dice"
)

// Combatant is one entry handed to an InitiativeRoller.
type Combatant struct {
	ID       actor.ID
	Modifier int
}

// InitiativeRoller produces an initiative value for every combatant.
// The overlay only consumes its output to build the initiative order.
type InitiativeRoller interface {
	RollInitiative(combatants []Combatant) map[actor.ID]int
}

// DiceInitiative rolls d20 + modifier for each combatant.
type DiceInitiative struct {
	roller *dice.Roller
}

// NewDiceInitiative returns an InitiativeRoller backed by roller.
//
// Precondition: roller must be non-nil.
func NewDiceInitiative(roller *dice.Roller) *DiceInitiative {
	return &DiceInitiative{roller: roller}
}

// RollInitiative rolls d20 + Modifier for every combatant.
//
// Postcondition: the result has exactly one entry per distinct combatant ID.
func (d *DiceInitiative) RollInitiative(combatants []Combatant) map[actor.ID]int {
	out := make(map[actor.ID]int, len(combatants))
	for _, c := range combatants {
		out[c.ID] = d.roller.D20(c.ID.String(), c.Modifier).Total()
	}
	return out
}

// sortByInitiativeDesc orders ids highest roll first. Ties keep their input order.
func sortByInitiativeDesc(ids []actor.ID, rolls map[actor.ID]int) {
	sort.SliceStable(ids, func(i, j int) bool {
		return rolls[ids[i]] > rolls[ids[j]]
	})
}
