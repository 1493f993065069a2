package bestiary

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
)

// ErrUnknownTemplate is returned when a template id is not in the Bestiary.
var ErrUnknownTemplate = errors.New("unknown npc template")

// Bestiary indexes templates by id. It is immutable after construction and safe for
// concurrent use.
type Bestiary struct {
	templates map[string]*Template
}

// New indexes templates.
//
// Postcondition: Returns an error if two templates share an id.
func New(templates []*Template) (*Bestiary, error) {
	b := &Bestiary{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		if _, dup := b.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate npc template id %q", t.ID)
		}
		b.templates[t.ID] = t
	}
	return b, nil
}

// Load reads every template in dir and indexes them.
func Load(dir string) (*Bestiary, error) {
	templates, err := LoadTemplates(dir)
	if err != nil {
		return nil, err
	}
	return New(templates)
}

// Get returns the template with the given id.
func (b *Bestiary) Get(id string) (*Template, bool) {
	t, ok := b.templates[id]
	return t, ok
}

// IDs returns every template id in sorted order.
func (b *Bestiary) IDs() []string {
	ids := make([]string, 0, len(b.templates))
	for id := range b.templates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of templates.
func (b *Bestiary) Len() int { return len(b.templates) }

// Spawn builds the combat profile of one NPC instance of templateID under key.
// An empty name defaults to the template name.
//
// Postcondition: Returns a profile at full hit points, ErrUnknownTemplate, or an error
// wrapping actor.ErrInvalidKey when key cannot name an NPC reference.
func (b *Bestiary) Spawn(templateID, key, name string) (combat.NpcProfile, error) {
	t, ok := b.templates[templateID]
	if !ok {
		return combat.NpcProfile{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	if err := actor.ValidateKey(key); err != nil {
		return combat.NpcProfile{}, fmt.Errorf("spawning %q: %w", templateID, err)
	}
	if name == "" {
		name = t.Name
	}
	return combat.NpcProfile{
		Key:           key,
		Name:          name,
		TemplateID:    t.ID,
		HP:            t.MaxHP,
		MaxHP:         t.MaxHP,
		Armor:         t.Armor,
		InitiativeMod: t.InitiativeMod,
		Behavior:      t.Behavior,
		Status:        slices.Clone(t.Tags),
	}, nil
}
