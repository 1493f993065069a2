package agent

import (
	"strings"

	"github.com/tidwall/gjson"
)

// directiveSeparator splits the director's narration from its directive object.
const directiveSeparator = "\n---\n"

// spawn declares one NPC drawn from the bestiary.
type spawn struct {
	Template string
	Key      string
	Name     string
}

// npcUpdate changes the tracked stats of one NPC.
type npcUpdate struct {
	Key    string
	HP     *int
	Status []string
}

// directives is what the director may ask of the table in one turn.
type directives struct {
	StartCombat bool
	Spawns      []spawn
	Join        []spawn
	Remove      []string
	Updates     []npcUpdate
	EndCombat   bool
	Scene       string
}

func (d directives) empty() bool {
	return !d.StartCombat && len(d.Join) == 0 && len(d.Remove) == 0 &&
		len(d.Updates) == 0 && !d.EndCombat && d.Scene == ""
}

// parseReply splits a director reply into narration and directives. The directive
// object follows the last separator line; a reply without one, or whose trailer is not
// valid JSON, is all narration.
func parseReply(reply string) (string, directives, bool) {
	reply = strings.TrimSpace(reply)
	idx := strings.LastIndex(reply, directiveSeparator)
	if idx < 0 {
		return reply, directives{}, false
	}
	raw := strings.TrimSpace(reply[idx+len(directiveSeparator):])
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```json"), "```")
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return reply, directives{}, false
	}
	return strings.TrimSpace(reply[:idx]), decodeDirectives(gjson.Parse(raw)), true
}

func decodeDirectives(doc gjson.Result) directives {
	var d directives
	switch start := doc.Get("start_combat"); {
	case start.IsObject():
		d.StartCombat = true
		d.Spawns = decodeSpawns(start.Get("npcs"))
	case start.Type == gjson.True:
		d.StartCombat = true
	}
	d.Join = decodeSpawns(doc.Get("join"))
	for _, key := range doc.Get("remove").Array() {
		if k := strings.TrimSpace(key.String()); k != "" {
			d.Remove = append(d.Remove, k)
		}
	}
	for _, u := range doc.Get("npc_status").Array() {
		up := npcUpdate{Key: strings.TrimSpace(u.Get("key").String())}
		if up.Key == "" {
			continue
		}
		if hp := u.Get("hp"); hp.Exists() {
			v := int(hp.Int())
			up.HP = &v
		}
		if status := u.Get("status"); status.IsArray() {
			up.Status = []string{}
			for _, s := range status.Array() {
				up.Status = append(up.Status, s.String())
			}
		}
		d.Updates = append(d.Updates, up)
	}
	d.EndCombat = doc.Get("end_combat").Bool()
	d.Scene = strings.TrimSpace(doc.Get("scene").String())
	return d
}

func decodeSpawns(arr gjson.Result) []spawn {
	if !arr.IsArray() {
		return nil
	}
	var out []spawn
	for _, n := range arr.Array() {
		s := spawn{
			Template: strings.TrimSpace(n.Get("template").String()),
			Key:      strings.TrimSpace(n.Get("key").String()),
			Name:     strings.TrimSpace(n.Get("name").String()),
		}
		if s.Template == "" {
			continue
		}
		if s.Key == "" {
			s.Key = s.Template
		}
		out = append(out, s)
	}
	return out
}
