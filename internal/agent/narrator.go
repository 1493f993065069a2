// Package agent implements the turn executors of the table: the director, the
// participants and the human proxy. Text generation is delegated to a Narrator.
package agent

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when a Narrator produced no text.
var ErrEmptyReply = errors.New("narrator returned no text")

// Request is one generation request.
type Request struct {
	// System sets the role the model plays.
	System string
	// Prompt is the situation the model responds to.
	Prompt string
}

// Narrator generates the text of one turn.
type Narrator interface {
	Narrate(ctx context.Context, req Request) (string, error)
}

// NarratorFunc adapts a function to Narrator.
type NarratorFunc func(ctx context.Context, req Request) (string, error)

// Narrate calls f.
func (f NarratorFunc) Narrate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
