// Package actor defines the identifiers of everything that can take a turn at the table.
//
// An ID is a tagged variant: either a plain name (the director or a participant) or an
// NPC reference, a transient combatant the director voices on behalf of a named
// non-player entity. NPC references have the textual form "<director>:<npc-key>".
package actor

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Separator joins the owning director and the NPC key in the textual form of an NPC reference.
const Separator = ":"

// Kind distinguishes plain actors from NPC references.
type Kind int

const (
	KindPlain Kind = iota
	KindNPC
)

// String returns a human-readable kind label.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindNPC:
		return "npc"
	default:
		return "unknown"
	}
}

// ErrEmpty is returned when parsing an empty identifier.
var ErrEmpty = errors.New("actor id must not be empty")

// ErrMalformed is returned when an identifier contains a separator but is not a valid NPC reference.
var ErrMalformed = errors.New("malformed actor id")

// ErrInvalidKey is returned when a string cannot serve as an NPC key.
var ErrInvalidKey = errors.New("invalid npc key")

// ValidateKey checks that key can be carried by an NPC reference and survive its textual
// form unchanged.
//
// Postcondition: Returns nil iff key is non-empty and contains neither Separator nor
// whitespace; returns an error wrapping ErrInvalidKey otherwise.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(key, Separator) || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q must not contain %q or whitespace", ErrInvalidKey, key, Separator)
	}
	return nil
}

// ID identifies an actor. The zero value is the empty ID and is never a valid actor.
//
// Invariant: for KindPlain, owner is empty and name contains no Separator;
// for KindNPC, owner and name (the NPC key) are both non-empty and free of Separator.
type ID struct {
	kind  Kind
	owner string
	name  string
}

// Plain returns the ID of a director or participant.
//
// Precondition: name must be non-empty and must not contain Separator.
func Plain(name string) ID {
	return ID{kind: KindPlain, name: name}
}

// NPCRef returns the ID of the NPC with the given key, voiced by director.
//
// Precondition: director must be a plain ID; key must be non-empty and must not contain Separator.
func NPCRef(director ID, key string) ID {
	return ID{kind: KindNPC, owner: director.name, name: key}
}

// Parse converts the textual form of an ID into its tagged representation.
//
// Postcondition: Returns a plain ID for names without Separator, an NPC reference for
// "<owner>:<key>", or ErrEmpty / ErrMalformed.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, ErrEmpty
	}
	owner, key, found := strings.Cut(s, Separator)
	if !found {
		return Plain(s), nil
	}
	if owner == "" || key == "" || strings.Contains(key, Separator) {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return ID{kind: KindNPC, owner: owner, name: key}, nil
}

// MustParse parses s and panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic("actor: MustParse(" + s + "): " + err.Error())
	}
	return id
}

// Kind reports whether id is plain or an NPC reference.
func (id ID) Kind() Kind { return id.kind }

// IsNPC reports whether id is an NPC reference.
func (id ID) IsNPC() bool { return id.kind == KindNPC }

// IsZero reports whether id is the empty ID.
func (id ID) IsZero() bool { return id.name == "" }

// Name returns the plain name, or the NPC key for NPC references.
func (id ID) Name() string { return id.name }

// Owner returns the ID of the director voicing an NPC reference, or the zero ID for plain actors.
func (id ID) Owner() ID {
	if id.kind != KindNPC {
		return ID{}
	}
	return Plain(id.owner)
}

// String returns the textual form of id.
func (id ID) String() string {
	if id.kind == KindNPC {
		return id.owner + Separator + id.name
	}
	return id.name
}

// MarshalText implements encoding.TextMarshaler so IDs serialise as strings and map keys.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input yields the zero ID.
func (id *ID) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseAll parses every element of names, stopping at the first error.
func ParseAll(names []string) ([]ID, error) {
	out := make([]ID, 0, len(names))
	for _, n := range names {
		id, err := Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Strings returns the textual form of every element of ids.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// IndexOf returns the index of the first occurrence of id in ids, or -1.
func IndexOf(ids []ID, id ID) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}
