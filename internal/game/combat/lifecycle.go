package combat

import (
	"fmt"
	"slices"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
)

// StartCombat enters combat from the exploration order.
//
// Every plain participant of order other than director and every declared NPC rolls
// initiative through roller. The resulting initiative order is the director followed by
// the combatants sorted by descending roll; ties keep declaration order with participants
// ahead of NPCs.
//
// Precondition: director must be a plain ID; roller must be non-nil.
// Postcondition: On success the returned State is Active, in round 1, with
// OriginalTurnOrder equal to a copy of order. Returns ErrInvalidCombatStart when there
// is no combatant or an NPC key fails actor.ValidateKey or is duplicated.
func StartCombat(director actor.ID, order []actor.ID, npcs []NpcProfile, roller InitiativeRoller) (State, error) {
	if director.IsZero() || director.IsNPC() {
		return State{}, fmt.Errorf("%w: director %q is not a plain actor", ErrInvalidCombatStart, director)
	}

	var combatants []Combatant
	for _, id := range order {
		if id == director || id.IsNPC() || id.IsZero() {
			continue
		}
		if slices.ContainsFunc(combatants, func(c Combatant) bool { return c.ID == id }) {
			continue
		}
		combatants = append(combatants, Combatant{ID: id})
	}

	profiles := make(map[string]NpcProfile, len(npcs))
	for _, p := range npcs {
		if err := actor.ValidateKey(p.Key); err != nil {
			return State{}, fmt.Errorf("%w: %w", ErrInvalidCombatStart, err)
		}
		if _, dup := profiles[p.Key]; dup {
			return State{}, fmt.Errorf("%w: duplicate npc key %q", ErrInvalidCombatStart, p.Key)
		}
		if p.MaxHP < p.HP {
			p.MaxHP = p.HP
		}
		profiles[p.Key] = p.clone()
		combatants = append(combatants, Combatant{ID: actor.NPCRef(director, p.Key), Modifier: p.InitiativeMod})
	}

	if len(combatants) == 0 {
		return State{}, fmt.Errorf("%w: no combatants", ErrInvalidCombatStart)
	}

	rolls := roller.RollInitiative(combatants)
	sorted := make([]actor.ID, len(combatants))
	for i, c := range combatants {
		sorted[i] = c.ID
	}
	sortByInitiativeDesc(sorted, rolls)

	kept := make(map[actor.ID]int, len(sorted))
	for _, id := range sorted {
		kept[id] = rolls[id]
	}

	return State{
		Active:            true,
		RoundNumber:       1,
		InitiativeOrder:   append([]actor.ID{director}, sorted...),
		InitiativeRolls:   kept,
		OriginalTurnOrder: slices.Clone(order),
		NpcProfiles:       profiles,
	}, nil
}

// EndCombat leaves combat.
//
// Postcondition: The returned State is the zero State. The returned order is a copy of
// the snapshotted exploration order, or nil when s was inactive or the snapshot is empty;
// a nil order means the caller keeps its current turn order. Calling EndCombat on its own
// result is a no-op.
func EndCombat(s State) (State, []actor.ID) {
	if !s.Active || len(s.OriginalTurnOrder) == 0 {
		return State{}, nil
	}
	return State{}, slices.Clone(s.OriginalTurnOrder)
}

// AdvanceRound moves an active encounter into its next round.
//
// Precondition: maxRounds >= 0; zero means unlimited.
// Postcondition: An inactive s is returned unchanged with forcedEnd false. Otherwise the
// round number is incremented; when maxRounds > 0 and the new round exceeds it, combat is
// ended exactly as EndCombat does and forcedEnd is true with the restored order returned.
func AdvanceRound(s State, maxRounds int) (State, bool, []actor.ID) {
	if !s.Active {
		return s, false, nil
	}
	next := s.Clone()
	next.RoundNumber++
	if maxRounds > 0 && next.RoundNumber > maxRounds {
		ended, restored := EndCombat(next)
		return ended, true, restored
	}
	return next, false, nil
}

// AddCombatant brings an NPC into an encounter already in progress.
// The NPC is placed after the director by roll: ahead of the first combatant with a
// strictly lower roll, so it acts after everyone it ties with.
//
// Precondition: s.Active; p.Key must satisfy actor.ValidateKey and not be present yet.
// Postcondition: The returned order contains the new reference exactly once.
func AddCombatant(s State, director actor.ID, p NpcProfile, roll int) (State, error) {
	if !s.Active {
		return s, ErrNotActive
	}
	if err := actor.ValidateKey(p.Key); err != nil {
		return s, err
	}
	if _, dup := s.NpcProfiles[p.Key]; dup {
		return s, fmt.Errorf("%w: npc %q", ErrDuplicateCombatant, p.Key)
	}
	ref := actor.NPCRef(director, p.Key)

	out := s.Clone()
	if out.NpcProfiles == nil {
		out.NpcProfiles = make(map[string]NpcProfile)
	}
	if out.InitiativeRolls == nil {
		out.InitiativeRolls = make(map[actor.ID]int)
	}
	if p.MaxHP < p.HP {
		p.MaxHP = p.HP
	}
	out.NpcProfiles[p.Key] = p.clone()
	out.InitiativeRolls[ref] = roll

	pos := len(out.InitiativeOrder)
	for i := 1; i < len(out.InitiativeOrder); i++ {
		if out.InitiativeRolls[out.InitiativeOrder[i]] < roll {
			pos = i
			break
		}
	}
	out.InitiativeOrder = slices.Insert(out.InitiativeOrder, pos, ref)
	return out, nil
}

// RemoveCombatant takes a combatant out of the initiative order, for example when an NPC
// flees or falls. NPC profiles are discarded with their reference.
//
// Precondition: s.Active; id must not be the director.
// Postcondition: Removing the last non-director combatant leaves the order [director].
func RemoveCombatant(s State, director, id actor.ID) (State, error) {
	if !s.Active {
		return s, ErrNotActive
	}
	if id == director {
		return s, ErrDirectorRemoval
	}
	idx := actor.IndexOf(s.InitiativeOrder, id)
	if idx < 1 {
		return s, fmt.Errorf("%w: %s", ErrUnknownCombatant, id)
	}
	out := s.Clone()
	out.InitiativeOrder = slices.Delete(out.InitiativeOrder, idx, idx+1)
	delete(out.InitiativeRolls, id)
	if id.IsNPC() {
		delete(out.NpcProfiles, id.Name())
	}
	return out, nil
}
