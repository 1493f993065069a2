// Package storagetest runs the checkpoint store contract against a backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
	"github.com/cory-johannsen/dmtable/internal/storage"
)

// T is the subset of testing.TB and *rapid.T the fixtures need.
type T interface {
	require.TestingT
	Helper()
}

type fixedRoller map[actor.ID]int

func (f fixedRoller) RollInitiative(cs []combat.Combatant) map[actor.ID]int {
	out := make(map[actor.ID]int, len(cs))
	for _, c := range cs {
		out[c.ID] = f[c.ID]
	}
	return out
}

// NewExplorationState returns a fresh session of dm, aria and brom.
func NewExplorationState(t T) session.State {
	t.Helper()
	order, err := actor.ParseAll([]string{"dm", "aria", "brom"})
	require.NoError(t, err)
	st, err := session.New(actor.Plain("dm"), actor.ID{}, order)
	require.NoError(t, err)
	return st.Say(actor.Plain("dm"), "You stand at the mouth of a cave.")
}

// NewCombatState returns a session in combat with one goblin, mid-round, with the
// human override enabled for aria.
func NewCombatState(t T) session.State {
	t.Helper()
	st := NewExplorationState(t)
	goblin := actor.NPCRef(st.Director, "goblin_1")
	st, err := st.StartCombat([]combat.NpcProfile{
		{Key: "goblin_1", Name: "Goblin", TemplateID: "goblin", HP: 7, MaxHP: 7, InitiativeMod: 2},
	}, fixedRoller{actor.Plain("aria"): 15, goblin: 12, actor.Plain("brom"): 8})
	require.NoError(t, err)
	st.Override = turn.Override{Enabled: true, ControlledActor: actor.Plain("aria")}
	st.RoundOpen = true
	st.CurrentActor = actor.Plain("aria")
	return st.Say(actor.Plain("aria"), "I draw my bow.")
}

// Run exercises the Store contract. newStore must return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("load unknown session", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		_, err := s.Load(context.Background(), uuid.New())
		assert.True(t, errors.Is(err, storage.ErrCheckpointNotFound), "got %v", err)
	})

	t.Run("round trip exploration", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		st := NewExplorationState(t)
		require.NoError(t, s.Checkpoint(ctx, st, 1))

		got, err := s.Load(ctx, st.ID)
		require.NoError(t, err)
		assertSameState(t, st, got)
	})

	t.Run("round trip combat", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		st := NewCombatState(t)
		require.NoError(t, s.Checkpoint(ctx, st, 3))

		got, err := s.Load(ctx, st.ID)
		require.NoError(t, err)
		assertSameState(t, st, got)
		assert.True(t, got.Combat.Active)
		assert.Equal(t, st.Combat.OriginalTurnOrder, got.Combat.OriginalTurnOrder)
		assert.Equal(t, st.Override, got.Override)
	})

	t.Run("checkpoint replaces previous", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		st := NewExplorationState(t)
		require.NoError(t, s.Checkpoint(ctx, st, 1))

		st = st.Say(actor.Plain("aria"), "Onward.")
		st.RoundsCompleted = 1
		require.NoError(t, s.Checkpoint(ctx, st, 2))

		got, err := s.Load(ctx, st.ID)
		require.NoError(t, err)
		assertSameState(t, st, got)

		sums, err := s.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, sums, 1)
		assert.Equal(t, st.ID, sums[0].SessionID)
		assert.Equal(t, 2, sums[0].Round)
	})

	t.Run("saved state is not aliased", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		st := NewCombatState(t)
		require.NoError(t, s.Checkpoint(ctx, st, 1))
		st.TurnOrder[1] = actor.Plain("mallory")

		got, err := s.Load(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, actor.Plain("aria"), got.TurnOrder[1])
	})

	t.Run("sessions most recent first", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		first := NewExplorationState(t)
		second := NewExplorationState(t)
		require.NoError(t, s.Checkpoint(ctx, first, 1))
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, s.Checkpoint(ctx, second, 1))

		latest, err := storage.Latest(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest)
	})

	t.Run("latest on empty store", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		_, err := storage.Latest(context.Background(), s)
		assert.True(t, errors.Is(err, storage.ErrCheckpointNotFound), "got %v", err)
	})

	t.Run("nil session id", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		st := NewExplorationState(t)
		st.ID = uuid.Nil
		err := s.Checkpoint(context.Background(), st, 1)
		assert.True(t, errors.Is(err, storage.ErrSessionIDRequired), "got %v", err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, s.Checkpoint(ctx, NewExplorationState(t), 1))
	})
}

func assertSameState(t *testing.T, want, got session.State) {
	t.Helper()
	wantJSON, err := session.Encode(want)
	require.NoError(t, err)
	gotJSON, err := session.Encode(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}
