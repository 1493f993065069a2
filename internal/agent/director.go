package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/bestiary"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
)

const directorSystem = `You are the game master of a tabletop role-playing session.
Describe the world, voice every non-player character and keep the story moving.
Write at most two short paragraphs. Never speak for the players.

When the situation changes, end your reply with a line containing only --- followed by
one JSON object using any of these fields:
  "scene": "<one sentence describing the current situation>"
  "start_combat": {"npcs": [{"template": "<bestiary id>", "key": "<unique key>", "name": "<optional>"}]}
  "join": [{"template": "<bestiary id>", "key": "<unique key>"}]
  "npc_status": [{"key": "<npc key>", "hp": <int>, "status": ["<tag>"]}]
  "remove": ["<npc key>"]
  "end_combat": true
NPC keys use only letters, digits and underscores, for example "goblin_1".
Omit the block when nothing changes.`

// Director runs the director's turns, including the turns of every NPC it voices.
type Director struct {
	narrator Narrator
	bestiary *bestiary.Bestiary
	roller   combat.InitiativeRoller
	history  int
	logger   *zap.Logger
}

// NewDirector creates the director executor.
//
// Precondition: narrator, roller and logger must be non-nil; bst may be nil, in which
// case the director cannot spawn NPCs; history is the number of transcript lines shown.
func NewDirector(narrator Narrator, bst *bestiary.Bestiary, roller combat.InitiativeRoller, history int, logger *zap.Logger) *Director {
	return &Director{
		narrator: narrator,
		bestiary: bst,
		roller:   roller,
		history:  history,
		logger:   logger,
	}
}

// ExecuteTurn narrates the director's or an NPC's turn and applies any directives the
// reply carries. NPCs without a profile or at zero hit points lose their turn.
func (d *Director) ExecuteTurn(ctx context.Context, t round.Turn, st session.State) (session.State, string, error) {
	req := Request{System: directorSystem}
	if t.IsNPC() {
		p, ok := st.Combat.NpcByRef(t.Target)
		if !ok {
			d.logger.Warn("npc turn without a profile", zap.Stringer("npc", t.Target))
			return st, "", nil
		}
		if p.IsDown() {
			d.logger.Debug("npc is down, skipping turn", zap.Stringer("npc", t.Target))
			return st, "", nil
		}
		req.Prompt = fmt.Sprintf("%s\n%s\nIt is the turn of %s\nNarrate what it does, in character.\n",
			turnHeader(t), describeTable(st, d.history), describeNpc(t.Target, p))
	} else {
		req.Prompt = fmt.Sprintf("%s\n%s\nIt is your turn as game master. Narrate what happens next.\n",
			turnHeader(t), describeTable(st, d.history))
	}

	reply, err := d.narrator.Narrate(ctx, req)
	if err != nil {
		return st, "", fmt.Errorf("director narration for %s: %w", t.Target, err)
	}
	text, dirs, ok := parseReply(reply)
	if ok && !dirs.empty() {
		st = d.apply(st, dirs)
	}
	return st, text, nil
}

// apply folds directives into st. Directives that cannot be honoured are logged and
// skipped; the narration always lands.
func (d *Director) apply(st session.State, dirs directives) session.State {
	if dirs.Scene != "" {
		st.Scene = dirs.Scene
	}

	if dirs.StartCombat {
		next, err := st.StartCombat(d.spawnAll(dirs.Spawns), d.roller)
		if err != nil {
			d.logger.Warn("start_combat ignored", zap.Error(err))
		} else {
			st = next
		}
	}

	for _, s := range dirs.Join {
		st = d.join(st, s)
	}

	for _, u := range dirs.Updates {
		st = d.update(st, u)
	}

	for _, key := range dirs.Remove {
		if !st.Combat.Active {
			break
		}
		cs, err := combat.RemoveCombatant(st.Combat, st.Director, actor.NPCRef(st.Director, key))
		if err != nil {
			d.logger.Warn("remove ignored", zap.String("npc", key), zap.Error(err))
			continue
		}
		st = st.Clone()
		st.Combat = cs
	}

	if dirs.EndCombat && st.Combat.Active {
		next, restored := st.EndCombat()
		if !restored {
			d.logger.Warn("combat ended with an empty turn order snapshot, keeping turn order")
		}
		st = next
	}
	return st
}

func (d *Director) spawnAll(spawns []spawn) []combat.NpcProfile {
	var out []combat.NpcProfile
	for _, s := range spawns {
		if p, ok := d.spawn(s); ok {
			out = append(out, p)
		}
	}
	return out
}

func (d *Director) spawn(s spawn) (combat.NpcProfile, bool) {
	if d.bestiary == nil {
		d.logger.Warn("no bestiary loaded, cannot spawn npc", zap.String("template", s.Template))
		return combat.NpcProfile{}, false
	}
	p, err := d.bestiary.Spawn(s.Template, s.Key, s.Name)
	if err != nil {
		d.logger.Warn("npc spawn ignored", zap.String("template", s.Template), zap.String("key", s.Key), zap.Error(err))
		return combat.NpcProfile{}, false
	}
	return p, true
}

func (d *Director) join(st session.State, s spawn) session.State {
	if !st.Combat.Active {
		d.logger.Warn("join ignored outside combat", zap.String("npc", s.Key))
		return st
	}
	p, ok := d.spawn(s)
	if !ok {
		return st
	}
	ref := actor.NPCRef(st.Director, p.Key)
	roll := d.roller.RollInitiative([]combat.Combatant{{ID: ref, Modifier: p.InitiativeMod}})[ref]
	cs, err := combat.AddCombatant(st.Combat, st.Director, p, roll)
	if err != nil {
		d.logger.Warn("join ignored", zap.String("npc", p.Key), zap.Error(err))
		return st
	}
	st = st.Clone()
	st.Combat = cs
	return st
}

func (d *Director) update(st session.State, u npcUpdate) session.State {
	p, ok := st.Combat.NpcByRef(actor.NPCRef(st.Director, u.Key))
	if !ok {
		d.logger.Warn("npc_status ignored for unknown npc", zap.String("npc", u.Key))
		return st
	}
	if u.HP != nil {
		p.HP = min(max(*u.HP, 0), p.MaxHP)
	}
	if u.Status != nil {
		p.Status = u.Status
	}
	cs, err := st.Combat.WithNpc(p)
	if err != nil {
		d.logger.Warn("npc_status ignored", zap.String("npc", u.Key), zap.Error(err))
		return st
	}
	st = st.Clone()
	st.Combat = cs
	return st
}
