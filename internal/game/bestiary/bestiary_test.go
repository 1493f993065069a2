package bestiary_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/bestiary"
)

const goblinYAML = `
id: goblin
name: Goblin
description: A small, vicious raider.
max_hp: 7
armor: 15
initiative_mod: 2
behavior: Flees when bloodied.
tags: [cowardly]
`

func TestLoadTemplateFromBytes(t *testing.T) {
	tmpl, err := bestiary.LoadTemplateFromBytes([]byte(goblinYAML))
	require.NoError(t, err)
	assert.Equal(t, "goblin", tmpl.ID)
	assert.Equal(t, 7, tmpl.MaxHP)
	assert.Equal(t, 2, tmpl.InitiativeMod)
	assert.Equal(t, []string{"cowardly"}, tmpl.Tags)
}

func TestTemplate_Validate(t *testing.T) {
	cases := map[string]bestiary.Template{
		"empty id":    {Name: "x", MaxHP: 1},
		"colon in id": {ID: "dm:goblin", Name: "x", MaxHP: 1},
		"no name":     {ID: "x", MaxHP: 1},
		"zero hp":     {ID: "x", Name: "x"},
		"neg armor":   {ID: "x", Name: "x", MaxHP: 1, Armor: -1},
	}
	for name, tmpl := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, tmpl.Validate())
		})
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "goblin.yaml"), []byte(goblinYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wolf.yml"), []byte("id: wolf\nname: Wolf\nmax_hp: 11\narmor: 13\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	b, err := bestiary.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"goblin", "wolf"}, b.IDs())
	assert.Equal(t, 2, b.Len())
}

func TestLoad_Errors(t *testing.T) {
	_, err := bestiary.Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: bad\n"), 0o600))
	_, err = bestiary.Load(dir)
	assert.ErrorContains(t, err, "bad.yaml")
}

func TestNew_DuplicateIDs(t *testing.T) {
	g := &bestiary.Template{ID: "goblin", Name: "Goblin", MaxHP: 7}
	_, err := bestiary.New([]*bestiary.Template{g, g})
	assert.Error(t, err)
}

func TestSpawn(t *testing.T) {
	tmpl, err := bestiary.LoadTemplateFromBytes([]byte(goblinYAML))
	require.NoError(t, err)
	b, err := bestiary.New([]*bestiary.Template{tmpl})
	require.NoError(t, err)

	p, err := b.Spawn("goblin", "goblin_1", "")
	require.NoError(t, err)
	assert.Equal(t, "goblin_1", p.Key)
	assert.Equal(t, "Goblin", p.Name)
	assert.Equal(t, 7, p.HP)
	assert.Equal(t, 7, p.MaxHP)
	assert.Equal(t, 15, p.Armor)
	assert.Equal(t, "Flees when bloodied.", p.Behavior)

	p.Status[0] = "brave"
	assert.Equal(t, []string{"cowardly"}, tmpl.Tags, "spawned profile must not alias the template")

	named, err := b.Spawn("goblin", "boss", "Grik the Loud")
	require.NoError(t, err)
	assert.Equal(t, "Grik the Loud", named.Name)

	_, err = b.Spawn("dragon", "d", "")
	assert.ErrorIs(t, err, bestiary.ErrUnknownTemplate)
	_, err = b.Spawn("goblin", "", "")
	assert.ErrorIs(t, err, actor.ErrInvalidKey)
	_, err = b.Spawn("goblin", "goblin:1", "")
	assert.ErrorIs(t, err, actor.ErrInvalidKey)
	_, err = b.Spawn("goblin", "goblin 1", "")
	assert.ErrorIs(t, err, actor.ErrInvalidKey)
}

func TestProperty_ValidTemplatesRoundTripThroughYAML(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		id := rapid.StringMatching(`[a-z][a-z_]{0,12}`).Draw(rt, "id")
		hp := rapid.IntRange(1, 500).Draw(rt, "hp")
		armor := rapid.IntRange(0, 30).Draw(rt, "armor")
		data := []byte(fmt.Sprintf("id: %q\nname: N\nmax_hp: %d\narmor: %d\n", id, hp, armor))

		tmpl, err := bestiary.LoadTemplateFromBytes(data)
		require.NoError(rt, err)
		assert.Equal(rt, id, tmpl.ID)
		assert.Equal(rt, hp, tmpl.MaxHP)
	})
}
