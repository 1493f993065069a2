package dice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmtable/internal/game/dice"
)

type fixedSource struct{ val int }

func (f fixedSource) Intn(n int) int { return f.val % n }

func TestRoll_TotalAndString(t *testing.T) {
	r := dice.Roll{Sides: 20, Natural: 14, Modifier: 3}
	assert.Equal(t, 17, r.Total())
	assert.Equal(t, "d20+3 → 14 = 17", r.String())
}

func TestDie_PanicsOnTooFewSides(t *testing.T) {
	assert.Panics(t, func() { dice.Die(fixedSource{}, 1, 0) })
}

func TestDie_Property_NaturalInRange(t *testing.T) {
	src := dice.NewCryptoSource()
	rapid.Check(t, func(rt *rapid.T) {
		sides := rapid.IntRange(2, 100).Draw(rt, "sides")
		mod := rapid.IntRange(-10, 10).Draw(rt, "mod")
		r := dice.Die(src, sides, mod)
		assert.GreaterOrEqual(rt, r.Natural, 1)
		assert.LessOrEqual(rt, r.Natural, sides)
		assert.Equal(rt, r.Natural+mod, r.Total())
	})
}

func TestCryptoSource_PanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { dice.NewCryptoSource().Intn(0) })
}

func TestSeededSource_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Uint64().Draw(rt, "seed")
		a, b := dice.NewSeededSource(seed), dice.NewSeededSource(seed)
		for i := 0; i < 20; i++ {
			assert.Equal(rt, a.Intn(20), b.Intn(20))
		}
	})
}

func TestSeededSource_PanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { dice.NewSeededSource(1).Intn(0) })
}

func TestRoller_D20LogsRoll(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := dice.NewRoller(fixedSource{val: 9}, zap.New(core))

	roll := r.D20("thorin", 2)
	assert.Equal(t, 10, roll.Natural)
	assert.Equal(t, 12, roll.Total())

	entries := logs.FilterMessage("dice roll").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "thorin", entries[0].ContextMap()["actor"])
		assert.Equal(t, int64(12), entries[0].ContextMap()["total"])
	}
}
