package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
)

const participantSystem = `You are a player at a tabletop role-playing session, playing one character.
Stay in character. Say what your character says and does in at most three sentences.
Never narrate the outcome of your actions; the game master does that.`

// DefaultPersona is used for participants without a configured persona.
const DefaultPersona = "A curious adventurer."

// Participant runs the turns of every AI participant. Each participant has its own persona.
type Participant struct {
	narrator Narrator
	personas map[actor.ID]string
	history  int
	logger   *zap.Logger
}

// NewParticipant creates the participant executor.
//
// Precondition: narrator and logger must be non-nil.
func NewParticipant(narrator Narrator, personas map[actor.ID]string, history int, logger *zap.Logger) *Participant {
	p := &Participant{
		narrator: narrator,
		personas: make(map[actor.ID]string, len(personas)),
		history:  history,
		logger:   logger,
	}
	for id, persona := range personas {
		p.personas[id] = persona
	}
	return p
}

// ExecuteTurn asks the narrator for the participant's action. The state is returned
// unchanged; participants only speak.
func (p *Participant) ExecuteTurn(ctx context.Context, t round.Turn, st session.State) (session.State, string, error) {
	persona, ok := p.personas[t.Target]
	if !ok {
		persona = DefaultPersona
	}
	req := Request{
		System: participantSystem + "\nYour character: " + persona,
		Prompt: fmt.Sprintf("%s\n%s\nYou are %s. What do you do?\n",
			turnHeader(t), describeTable(st, p.history), t.Target),
	}
	text, err := p.narrator.Narrate(ctx, req)
	if err != nil {
		return st, "", fmt.Errorf("participant %s: %w", t.Target, err)
	}
	p.logger.Debug("participant acted", zap.Stringer("participant", t.Target), zap.Int("chars", len(text)))
	return st, text, nil
}
