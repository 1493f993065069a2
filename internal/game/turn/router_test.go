package turn_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
)

var (
	dm    = actor.Plain("dm")
	human = actor.Plain("human")
)

func ids(names ...string) []actor.ID {
	out := make([]actor.ID, len(names))
	for i, n := range names {
		out[i] = actor.MustParse(n)
	}
	return out
}

func exploration(order ...string) turn.View {
	return turn.View{Director: dm, HumanProxy: human, TurnOrder: ids(order...)}
}

func TestRoute_ScenarioA(t *testing.T) {
	v := exploration("dm", "a", "b")

	r := turn.Route(dm, v)
	assert.False(t, r.Complete)
	assert.Equal(t, actor.Plain("a"), r.Next)
	assert.Equal(t, turn.NodeParticipant, r.Node)

	assert.Equal(t, turn.RoundComplete, turn.Route(actor.Plain("b"), v))
}

func TestRoute_ScenarioB_NPCRefsResolveToDirector(t *testing.T) {
	v := turn.View{
		Director:        dm,
		HumanProxy:      human,
		TurnOrder:       ids("dm", "a", "b"),
		CombatActive:    true,
		InitiativeOrder: ids("dm", "dm:goblin_1", "a", "dm:goblin_2", "b"),
	}

	r := turn.Route(dm, v)
	assert.Equal(t, dm, r.Next)
	assert.Equal(t, turn.NodeDirector, r.Node)
	assert.Equal(t, actor.MustParse("dm:goblin_1"), r.Target)

	r = turn.Route(actor.MustParse("dm:goblin_2"), v)
	assert.Equal(t, actor.Plain("b"), r.Next)
	assert.Equal(t, actor.Plain("b"), r.Target)

	assert.True(t, turn.Route(actor.Plain("b"), v).Complete)
}

func TestRoute_ScenarioD_HumanOverride(t *testing.T) {
	v := exploration("dm", "a", "b")
	v.Override = turn.Override{Enabled: true, ControlledActor: actor.Plain("a")}

	r := turn.Route(dm, v)
	assert.Equal(t, human, r.Next)
	assert.Equal(t, turn.NodeHuman, r.Node)
	assert.Equal(t, actor.Plain("a"), r.Target)

	// The successor of the controlled actor is routed normally.
	r = turn.Route(actor.Plain("a"), v)
	assert.Equal(t, actor.Plain("b"), r.Next)
	assert.Equal(t, turn.NodeParticipant, r.Node)
}

func TestRoute_OverrideDisabledDoesNotRedirect(t *testing.T) {
	v := exploration("dm", "a", "b")
	v.Override = turn.Override{Enabled: false, ControlledActor: actor.Plain("a")}
	assert.Equal(t, actor.Plain("a"), turn.Route(dm, v).Next)
}

func TestRoute_OverrideNeverRedirectsDirectorOrNPC(t *testing.T) {
	v := turn.View{
		Director:        dm,
		HumanProxy:      human,
		TurnOrder:       ids("a", "dm"),
		CombatActive:    true,
		InitiativeOrder: ids("dm", "dm:orc", "a", "dm"),
	}
	v.Override = turn.Override{Enabled: true, ControlledActor: actor.MustParse("dm:orc")}
	r := turn.Route(dm, v)
	assert.Equal(t, turn.NodeDirector, r.Node)
	assert.Equal(t, dm, r.Next)

	v.Override = turn.Override{Enabled: true, ControlledActor: dm}
	r = turn.Route(actor.Plain("a"), v)
	assert.Equal(t, turn.NodeDirector, r.Node)
	assert.Equal(t, dm, r.Next)
}

func TestRoute_UnknownCurrentFallsBackToDirector(t *testing.T) {
	v := exploration("dm", "a")
	r := turn.Route(actor.Plain("ghost"), v)
	assert.False(t, r.Complete)
	assert.True(t, r.Fallback)
	assert.Equal(t, dm, r.Next)
	assert.Equal(t, turn.NodeDirector, r.Node)
}

func TestRoute_SingleElementOrderingCompletesImmediately(t *testing.T) {
	assert.Equal(t, turn.RoundComplete, turn.Route(dm, exploration("dm")))

	v := turn.View{Director: dm, TurnOrder: ids("dm", "a"), CombatActive: true, InitiativeOrder: ids("dm")}
	assert.Equal(t, turn.RoundComplete, turn.Route(dm, v))
}

func TestFirst(t *testing.T) {
	assert.Equal(t, dm, turn.First(exploration("dm", "a")).Next)
	assert.True(t, turn.First(turn.View{}).Complete)

	v := exploration("a", "dm")
	v.Override = turn.Override{Enabled: true, ControlledActor: actor.Plain("a")}
	r := turn.First(v)
	assert.Equal(t, turn.NodeHuman, r.Node)
	assert.Equal(t, actor.Plain("a"), r.Target)
}

func TestValidateOrder(t *testing.T) {
	assert.NoError(t, turn.ValidateOrder(ids("dm", "a")))
	assert.ErrorIs(t, turn.ValidateOrder(nil), turn.ErrEmptyOrder)
	assert.ErrorIs(t, turn.ValidateOrder(ids("dm", "dm:orc")), turn.ErrNPCInOrder)
	assert.ErrorIs(t, turn.ValidateOrder([]actor.ID{{}}), actor.ErrEmpty)
}

func TestOverride_Validate(t *testing.T) {
	assert.NoError(t, turn.Override{}.Validate(dm))
	assert.NoError(t, turn.Override{Enabled: true, ControlledActor: actor.Plain("a")}.Validate(dm))
	for _, o := range []turn.Override{
		{Enabled: true},
		{Enabled: true, ControlledActor: dm},
		{Enabled: true, ControlledActor: actor.MustParse("dm:orc")},
	} {
		assert.ErrorIs(t, o.Validate(dm), turn.ErrInvalidOverride, "override %+v", o)
	}
}

func TestCloneOrder_DoesNotAlias(t *testing.T) {
	src := ids("dm", "a")
	cp := turn.CloneOrder(src)
	cp[0] = actor.Plain("x")
	assert.Equal(t, dm, src[0])
	assert.Nil(t, turn.CloneOrder(nil))
}

// drawOrder draws a director-first order of distinct plain participants.
func drawOrder(rt *rapid.T) []actor.ID {
	n := rapid.IntRange(0, 7).Draw(rt, "participants")
	order := []actor.ID{dm}
	for i := 0; i < n; i++ {
		order = append(order, actor.Plain(fmt.Sprintf("p%d", i)))
	}
	return order
}

func TestRoute_Property_ExplorationSuccessor(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		order := drawOrder(rt)
		v := turn.View{Director: dm, HumanProxy: human, TurnOrder: order}
		i := rapid.IntRange(0, len(order)-1).Draw(rt, "index")

		r := turn.Route(order[i], v)
		if i == len(order)-1 {
			assert.True(rt, r.Complete)
			return
		}
		assert.False(rt, r.Complete)
		assert.Equal(rt, order[i+1], r.Next)
		assert.Equal(rt, order[i+1], r.Target)
	})
}

func TestRoute_Property_LastIndexCompletesInBothModes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		order := drawOrder(rt)
		initiative := append([]actor.ID{dm}, rapid.Permutation(order[1:]).Draw(rt, "initiative")...)
		combat := rapid.Bool().Draw(rt, "combat")
		v := turn.View{Director: dm, TurnOrder: order, CombatActive: combat, InitiativeOrder: initiative}
		active := v.ActiveOrdering()
		assert.Equal(rt, turn.RoundComplete, turn.Route(active[len(active)-1], v))
	})
}

func TestRoute_Property_NPCRefsAlwaysGoToDirector(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		order := drawOrder(rt)
		npcs := rapid.IntRange(1, 5).Draw(rt, "npcs")
		entries := append([]actor.ID{}, order[1:]...)
		for i := 0; i < npcs; i++ {
			entries = append(entries, actor.NPCRef(dm, fmt.Sprintf("npc%d", i)))
		}
		initiative := append([]actor.ID{dm}, rapid.Permutation(entries).Draw(rt, "initiative")...)
		v := turn.View{Director: dm, TurnOrder: order, CombatActive: true, InitiativeOrder: initiative}

		for i := 0; i < len(initiative)-1; i++ {
			r := turn.Route(initiative[i], v)
			if initiative[i+1].IsNPC() {
				assert.Equal(rt, dm, r.Next)
				assert.Equal(rt, initiative[i+1], r.Target)
			}
		}
	})
}

func TestRoute_Property_OverrideOnlyRedirectsControlledActor(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		order := drawOrder(rt)
		if len(order) < 2 {
			order = append(order, actor.Plain("p0"))
		}
		controlled := rapid.SampledFrom(order[1:]).Draw(rt, "controlled")
		v := turn.View{
			Director:   dm,
			HumanProxy: human,
			TurnOrder:  order,
			Override:   turn.Override{Enabled: true, ControlledActor: controlled},
		}
		for i := 0; i < len(order)-1; i++ {
			r := turn.Route(order[i], v)
			if order[i+1] == controlled {
				assert.Equal(rt, turn.NodeHuman, r.Node)
				assert.Equal(rt, human, r.Next)
			} else {
				assert.NotEqual(rt, turn.NodeHuman, r.Node)
				assert.Equal(rt, order[i+1], r.Next)
			}
		}
	})
}
