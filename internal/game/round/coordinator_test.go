package round_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
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

// recorder is an executor that records every turn and speaks the target's name.
// An optional step function may transform the state.
type recorder struct {
	turns []round.Turn
	step  func(t round.Turn, st session.State) (session.State, error)
}

func (r *recorder) ExecuteTurn(_ context.Context, t round.Turn, st session.State) (session.State, string, error) {
	r.turns = append(r.turns, t)
	if r.step != nil {
		next, err := r.step(t, st)
		if err != nil {
			return st, "", err
		}
		st = next
	}
	return st, "turn of " + t.Target.String(), nil
}

func (r *recorder) targets() []actor.ID {
	out := make([]actor.ID, len(r.turns))
	for i, t := range r.turns {
		out[i] = t.Target
	}
	return out
}

type zeroRoller struct{}

func (zeroRoller) RollInitiative([]combat.Combatant) map[actor.ID]int { return nil }

type memCheckpoints struct {
	rounds []int
	err    error
}

func (m *memCheckpoints) Checkpoint(_ context.Context, _ session.State, n int) error {
	m.rounds = append(m.rounds, n)
	return m.err
}

type notices struct{}

func (notices) OnRoundStart(n int) string          { return fmt.Sprintf("Round %d begins.", n) }
func (notices) OnCombatStart(combatants int) string { return fmt.Sprintf("%d combatants.", combatants) }
func (notices) OnCombatEnd(reason string) string    { return "ended by " + reason }

func newState(t *testing.T, names ...string) session.State {
	t.Helper()
	st, err := session.New(dm, human, ids(names...))
	require.NoError(t, err)
	return st
}

func newCoordinator(t *testing.T, dir, part, hum round.Executor, maxRounds int, opts ...round.Option) *round.Coordinator {
	t.Helper()
	c, err := round.NewCoordinator(round.Executors{Director: dir, Participant: part, Human: hum}, maxRounds, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return c
}

func speakers(st session.State) []actor.ID {
	var out []actor.ID
	for _, e := range st.Transcript {
		if !e.System {
			out = append(out, e.Speaker)
		}
	}
	return out
}

func TestRunRound_ExplorationScenarioA(t *testing.T) {
	dir, part := &recorder{}, &recorder{}
	cp := &memCheckpoints{}
	c := newCoordinator(t, dir, part, nil, 0, round.WithCheckpointer(cp))

	st, err := c.RunRound(context.Background(), newState(t, "dm", "a", "b"))
	require.NoError(t, err)

	assert.Equal(t, ids("dm"), dir.targets())
	assert.Equal(t, ids("a", "b"), part.targets())
	assert.Equal(t, ids("dm", "a", "b"), speakers(st))
	assert.Equal(t, "turn of a", st.Transcript[1].Text)
	assert.Equal(t, 1, st.RoundsCompleted)
	assert.False(t, st.RoundOpen)
	assert.True(t, st.CurrentActor.IsZero())
	assert.Equal(t, []int{1, 1, 1, 1}, cp.rounds)
}

func TestRunRound_CombatScenarioB(t *testing.T) {
	st := newState(t, "dm", "a", "b")
	st.Combat = combat.State{
		Active:            true,
		RoundNumber:       1,
		InitiativeOrder:   ids("dm", "dm:goblin_1", "a", "dm:goblin_2", "b"),
		OriginalTurnOrder: ids("dm", "a", "b"),
		NpcProfiles: map[string]combat.NpcProfile{
			"goblin_1": {Key: "goblin_1", HP: 7},
			"goblin_2": {Key: "goblin_2", HP: 7},
		},
	}
	dir, part := &recorder{}, &recorder{}
	c := newCoordinator(t, dir, part, nil, 0)

	out, err := c.RunRound(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, ids("dm", "dm:goblin_1", "dm:goblin_2"), dir.targets())
	for _, tt := range dir.turns {
		assert.Equal(t, dm, tt.Actor)
		assert.Equal(t, 1, tt.CombatRound)
	}
	assert.True(t, dir.turns[1].IsNPC())
	assert.Equal(t, ids("a", "b"), part.targets())
	assert.Equal(t, ids("dm", "dm:goblin_1", "a", "dm:goblin_2", "b"), speakers(out))
	assert.True(t, out.CombatCarried)
	assert.Equal(t, 1, out.Combat.RoundNumber, "a fresh round does not advance combat")
}

// startsCombatOnce makes the director start combat with one goblin on its first turn.
func startsCombatOnce() *recorder {
	started := false
	return &recorder{step: func(t round.Turn, st session.State) (session.State, error) {
		if started || t.Target != dm {
			return st, nil
		}
		started = true
		return st.StartCombat([]combat.NpcProfile{{Key: "goblin", HP: 7}}, zeroRoller{})
	}}
}

func TestRunRound_CombatStartedMidRoundThenForcedEndScenarioC(t *testing.T) {
	dir, part := startsCombatOnce(), &recorder{}
	c := newCoordinator(t, dir, part, nil, 3, round.WithHooks(notices{}))
	ctx := context.Background()

	st, err := c.RunRound(ctx, newState(t, "dm", "a", "b"))
	require.NoError(t, err)
	require.True(t, st.Combat.Active)
	assert.Equal(t, 1, st.Combat.RoundNumber)
	assert.Equal(t, ids("dm", "a", "b", "dm:goblin"), st.Combat.InitiativeOrder)
	assert.Equal(t, ids("dm", "a", "b", "dm:goblin"), speakers(st))
	assert.Contains(t, noticeTexts(st), "3 combatants.")

	for want := 2; want <= 3; want++ {
		st, err = c.RunRound(ctx, st)
		require.NoError(t, err)
		require.True(t, st.Combat.Active)
		assert.Equal(t, want, st.Combat.RoundNumber)
	}

	before := len(st.Transcript)
	st, err = c.RunRound(ctx, st)
	require.NoError(t, err)
	assert.False(t, st.Combat.Active)
	assert.True(t, st.Combat.IsDefault())
	assert.Equal(t, ids("dm", "a", "b"), st.TurnOrder)
	assert.False(t, st.CombatCarried)

	tail := noticeTexts(session.State{Transcript: st.Transcript[before:]})
	assert.Equal(t, []string{
		"Combat has reached the maximum of 3 rounds and ends.",
		"ended by max_rounds",
		"Round 5 begins.",
	}, tail)
	assert.Equal(t, ids("dm", "a", "b"), speakers(session.State{Transcript: st.Transcript[before:]}))
}

func TestRunRound_UnlimitedCombatRoundsNeverEnd(t *testing.T) {
	c := newCoordinator(t, startsCombatOnce(), &recorder{}, nil, 0)
	st := newState(t, "dm", "a")
	var err error
	for i := 0; i < 12; i++ {
		st, err = c.RunRound(context.Background(), st)
		require.NoError(t, err)
	}
	assert.True(t, st.Combat.Active)
	assert.Equal(t, 12, st.Combat.RoundNumber)
}

func noticeTexts(st session.State) []string {
	var out []string
	for _, e := range st.Transcript {
		if e.System {
			out = append(out, e.Text)
		}
	}
	return out
}

func TestRunRound_HumanOverrideScenarioD(t *testing.T) {
	dir, part, hum := &recorder{}, &recorder{}, &recorder{}
	c := newCoordinator(t, dir, part, hum, 0)
	st := newState(t, "dm", "a", "b")
	st.Override = turn.Override{Enabled: true, ControlledActor: actor.Plain("a")}

	out, err := c.RunRound(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, hum.turns, 1)
	assert.Equal(t, human, hum.turns[0].Actor)
	assert.Equal(t, actor.Plain("a"), hum.turns[0].Target)
	assert.Equal(t, ids("b"), part.targets())
	assert.Equal(t, ids("dm", "a", "b"), speakers(out))
	assert.True(t, out.Override.Enabled, "the override is cleared by the host only")
}

func TestRunRound_OverrideWithoutHumanExecutor(t *testing.T) {
	c := newCoordinator(t, &recorder{}, &recorder{}, nil, 0)
	st := newState(t, "dm", "a")
	st.Override = turn.Override{Enabled: true, ControlledActor: actor.Plain("a")}

	out, err := c.RunRound(context.Background(), st)
	assert.ErrorIs(t, err, round.ErrNoExecutor)
	assert.True(t, out.RoundOpen)
	assert.Equal(t, dm, out.CurrentActor)
}

func TestRunRound_IterationLimit(t *testing.T) {
	swap := func(order ...string) func(round.Turn, session.State) (session.State, error) {
		return func(_ round.Turn, st session.State) (session.State, error) {
			st.TurnOrder = ids(order...)
			return st, nil
		}
	}
	dir := &recorder{step: swap("dm", "a")}
	part := &recorder{step: swap("a", "dm")}
	c := newCoordinator(t, dir, part, nil, 0)

	_, err := c.RunRound(context.Background(), newState(t, "dm", "a"))
	require.ErrorIs(t, err, round.ErrIterationLimitExceeded)
	assert.Len(t, append(dir.turns, part.turns...), 6)
}

func TestRunRound_ExecutorErrorReturnsLastGoodState(t *testing.T) {
	boom := errors.New("model unavailable")
	part := &recorder{step: func(t round.Turn, st session.State) (session.State, error) {
		if t.Target == actor.Plain("b") {
			return st, boom
		}
		return st, nil
	}}
	c := newCoordinator(t, &recorder{}, part, nil, 0)

	out, err := c.RunRound(context.Background(), newState(t, "dm", "a", "b"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ids("dm", "a"), speakers(out))
	assert.Equal(t, actor.Plain("a"), out.CurrentActor)
	assert.True(t, out.RoundOpen)
}

func TestRunRound_InvalidExecutorState(t *testing.T) {
	part := &recorder{step: func(_ round.Turn, st session.State) (session.State, error) {
		st.TurnOrder = append(st.TurnOrder, actor.MustParse("dm:sneaky"))
		return st, nil
	}}
	c := newCoordinator(t, &recorder{}, part, nil, 0)
	_, err := c.RunRound(context.Background(), newState(t, "dm", "a"))
	assert.ErrorIs(t, err, round.ErrInvalidTurnResult)

	swapID := &recorder{step: func(_ round.Turn, st session.State) (session.State, error) {
		other := newState(t, "dm", "a")
		return other, nil
	}}
	c = newCoordinator(t, swapID, &recorder{}, nil, 0)
	_, err = c.RunRound(context.Background(), newState(t, "dm", "a"))
	assert.ErrorIs(t, err, round.ErrInvalidTurnResult)
}

func TestRunRound_CancelThenResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	part := &recorder{step: func(t round.Turn, st session.State) (session.State, error) {
		if t.Target == actor.Plain("a") {
			cancel()
		}
		return st, nil
	}}
	c := newCoordinator(t, &recorder{}, part, nil, 0)

	st, err := c.RunRound(ctx, newState(t, "dm", "a", "b"))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, st.RoundOpen)
	assert.Equal(t, actor.Plain("a"), st.CurrentActor)

	st, err = c.RunRound(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, ids("dm", "a", "b"), speakers(st))
	assert.Equal(t, 1, st.RoundsCompleted)
}

func TestRunRound_CheckpointFailureIsLoggedNotFatal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cp := &memCheckpoints{err: errors.New("disk full")}
	c, err := round.NewCoordinator(round.Executors{Director: &recorder{}, Participant: &recorder{}}, 0, zap.New(core), round.WithCheckpointer(cp))
	require.NoError(t, err)

	st, err := c.RunRound(context.Background(), newState(t, "dm", "a"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.RoundsCompleted)
	assert.Equal(t, 3, logs.FilterMessage("checkpoint failed").Len())
}

func TestRunRound_FallbackWhenCombatEndsDuringNPCTurn(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dir := &recorder{step: func(t round.Turn, st session.State) (session.State, error) {
		if t.Target.IsNPC() {
			out, _ := st.EndCombat()
			return out, nil
		}
		return st, nil
	}}
	c, err := round.NewCoordinator(round.Executors{Director: dir, Participant: &recorder{}}, 0, zap.New(core))
	require.NoError(t, err)

	st := newState(t, "dm", "a")
	st, err = st.StartCombat([]combat.NpcProfile{{Key: "rat", HP: 1}}, fixedRoller{actor.MustParse("dm:rat"): 20})
	require.NoError(t, err)

	out, err := c.RunRound(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, out.Combat.Active)
	assert.Equal(t, ids("dm", "dm:rat", "dm", "a"), speakers(out))
	assert.Equal(t, 1, logs.FilterMessage("current actor missing from active ordering, falling back to director").Len())
}

// fleesOnOwnTurn makes the director remove every NPC in flee from combat during that NPC's turn.
func fleesOnOwnTurn(flee ...string) *recorder {
	return &recorder{step: func(t round.Turn, st session.State) (session.State, error) {
		if !t.IsNPC() || !slices.Contains(flee, t.Target.String()) {
			return st, nil
		}
		cs, err := combat.RemoveCombatant(st.Combat, st.Director, t.Target)
		if err != nil {
			return st, err
		}
		st.Combat = cs
		return st, nil
	}}
}

func TestRunRound_NPCRemovedOnOwnTurnContinuesPass(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dir, part := fleesOnOwnTurn("dm:rat"), &recorder{}
	c, err := round.NewCoordinator(round.Executors{Director: dir, Participant: part}, 0, zap.New(core))
	require.NoError(t, err)

	st := newState(t, "dm", "a", "b")
	st.Combat = combat.State{
		Active:            true,
		RoundNumber:       1,
		InitiativeOrder:   ids("dm", "a", "dm:rat", "b"),
		OriginalTurnOrder: ids("dm", "a", "b"),
		NpcProfiles:       map[string]combat.NpcProfile{"rat": {Key: "rat", HP: 2}},
	}

	out, err := c.RunRound(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, ids("dm", "a", "dm:rat", "b"), speakers(out))
	assert.Equal(t, ids("a", "b"), part.targets())
	assert.Equal(t, ids("dm", "a", "b"), out.Combat.InitiativeOrder)
	assert.Equal(t, 1, out.RoundsCompleted)
	assert.Zero(t, logs.Len())
}

func TestRunRound_LastNPCRemovedOnOwnTurnCompletesRound(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dir := fleesOnOwnTurn("dm:rat")
	c, err := round.NewCoordinator(round.Executors{Director: dir, Participant: &recorder{}}, 0, zap.New(core))
	require.NoError(t, err)

	st := newState(t, "dm", "a")
	st.Combat = combat.State{
		Active:            true,
		RoundNumber:       1,
		InitiativeOrder:   ids("dm", "a", "dm:rat"),
		OriginalTurnOrder: ids("dm", "a"),
		NpcProfiles:       map[string]combat.NpcProfile{"rat": {Key: "rat", HP: 2}},
	}

	out, err := c.RunRound(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, ids("dm", "a", "dm:rat"), speakers(out))
	assert.False(t, out.RoundOpen)
	assert.Zero(t, logs.Len())
}

func TestRunRound_ParticipantLeavesOnOwnTurn(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	part := &recorder{step: func(t round.Turn, st session.State) (session.State, error) {
		if t.Target == actor.Plain("a") {
			return st.Leave(t.Target)
		}
		return st, nil
	}}
	c, err := round.NewCoordinator(round.Executors{Director: &recorder{}, Participant: part}, 0, zap.New(core))
	require.NoError(t, err)

	out, err := c.RunRound(context.Background(), newState(t, "dm", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, ids("dm", "a", "b"), speakers(out))
	assert.Equal(t, ids("dm", "b"), out.TurnOrder)
	assert.Zero(t, logs.Len())
}

func TestRunRound_Property_FleeingNPCsNeverRepeatTurns(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 1, 5, rapid.ID[string]).Draw(rt, "npcs")
		fleeMask := rapid.SliceOfN(rapid.Bool(), len(keys), len(keys)).Draw(rt, "flee")

		order := ids("dm", "a", "b")
		profiles := make(map[string]combat.NpcProfile, len(keys))
		var flee []string
		for i, k := range keys {
			ref := actor.NPCRef(dm, k)
			pos := rapid.IntRange(1, len(order)).Draw(rt, "pos")
			order = slices.Insert(order, pos, ref)
			profiles[k] = combat.NpcProfile{Key: k, HP: 1}
			if fleeMask[i] {
				flee = append(flee, ref.String())
			}
		}

		st, err := session.New(dm, human, ids("dm", "a", "b"))
		require.NoError(rt, err)
		st.Combat = combat.State{
			Active:            true,
			RoundNumber:       1,
			InitiativeOrder:   order,
			OriginalTurnOrder: ids("dm", "a", "b"),
			NpcProfiles:       profiles,
		}

		c, err := round.NewCoordinator(round.Executors{Director: fleesOnOwnTurn(flee...), Participant: &recorder{}}, 0, zap.NewNop())
		require.NoError(rt, err)
		out, err := c.RunRound(context.Background(), st)
		require.NoError(rt, err)
		assert.Equal(rt, order, speakers(out))
	})
}

type fixedRoller map[actor.ID]int

func (f fixedRoller) RollInitiative(cs []combat.Combatant) map[actor.ID]int {
	out := make(map[actor.ID]int, len(cs))
	for _, c := range cs {
		out[c.ID] = f[c.ID]
	}
	return out
}

func TestRunRound_EmptySnapshotOnForcedEndKeepsTurnOrder(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, err := round.NewCoordinator(round.Executors{Director: &recorder{}, Participant: &recorder{}}, 1, zap.New(core))
	require.NoError(t, err)

	st := newState(t, "dm", "a")
	st.Combat = combat.State{Active: true, RoundNumber: 1, InitiativeOrder: ids("dm", "a")}
	st.CombatCarried = true

	out, err := c.RunRound(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, out.Combat.Active)
	assert.Equal(t, ids("dm", "a"), out.TurnOrder)
	assert.Equal(t, 1, logs.FilterMessage("combat ended with an empty turn order snapshot, keeping turn order").Len())
}

func TestRunRound_ObserverSeesPhases(t *testing.T) {
	var phases []round.Phase
	obs := func(p round.Phase, _ round.Turn, _ session.State) { phases = append(phases, p) }
	c := newCoordinator(t, &recorder{}, &recorder{}, nil, 0, round.WithObserver(obs))

	_, err := c.RunRound(context.Background(), newState(t, "dm", "a"))
	require.NoError(t, err)
	assert.Equal(t, []round.Phase{
		round.PhaseIdle,
		round.PhaseActorExecuting,
		round.PhaseRouted,
		round.PhaseActorExecuting,
		round.PhaseRoundComplete,
	}, phases)
	assert.Equal(t, "actor_executing", round.PhaseActorExecuting.String())
}

func TestRunRound_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	c := newCoordinator(t, &recorder{}, &recorder{}, nil, 0, round.WithTracer(tp.Tracer("test")))

	_, err := c.RunRound(context.Background(), newState(t, "dm", "a", "b"))
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["round.run"])
	assert.Equal(t, 3, names["round.turn"])
}

func TestRunRound_RejectsInvalidState(t *testing.T) {
	c := newCoordinator(t, &recorder{}, &recorder{}, nil, 0)
	_, err := c.RunRound(context.Background(), session.State{})
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestNewCoordinator_Preconditions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := round.NewCoordinator(round.Executors{Participant: &recorder{}}, 0, logger)
	assert.Error(t, err)
	_, err = round.NewCoordinator(round.Executors{Director: &recorder{}, Participant: &recorder{}}, -1, logger)
	assert.Error(t, err)
}

func TestRunRound_Property_ExplorationVisitsOrderOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(rt, "participants")
		names := []string{"dm"}
		for i := 0; i < n; i++ {
			names = append(names, fmt.Sprintf("p%d", i))
		}
		perm := rapid.Permutation(names).Draw(rt, "order")
		st, err := session.New(dm, human, ids(perm...))
		require.NoError(rt, err)

		dir, part := &recorder{}, &recorder{}
		c, err := round.NewCoordinator(round.Executors{Director: dir, Participant: part}, 0, zap.NewNop())
		require.NoError(rt, err)

		out, err := c.RunRound(context.Background(), st)
		require.NoError(rt, err)
		assert.Equal(rt, ids(perm...), speakers(out))
		assert.Len(rt, dir.turns, 1)
	})
}
