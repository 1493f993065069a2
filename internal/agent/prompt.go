package agent

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
)

// describeTable renders the shared situation every actor sees: the scene, who is at the
// table, the combat status and the latest transcript lines.
func describeTable(st session.State, history int) string {
	var b strings.Builder
	if st.Scene != "" {
		fmt.Fprintf(&b, "Scene: %s\n", st.Scene)
	}
	fmt.Fprintf(&b, "At the table: %s\n", strings.Join(actor.Strings(st.TurnOrder), ", "))

	if st.Combat.Active {
		fmt.Fprintf(&b, "Combat round %d. Initiative: %s\n",
			st.Combat.RoundNumber, strings.Join(actor.Strings(st.Combat.InitiativeOrder), ", "))
		for _, id := range st.Combat.InitiativeOrder {
			if p, ok := st.Combat.NpcByRef(id); ok {
				fmt.Fprintf(&b, "  %s\n", describeNpc(id, p))
			}
		}
	}

	if recent := st.Recent(history); len(recent) > 0 {
		b.WriteString("Recent events:\n")
		for _, e := range recent {
			if e.System {
				fmt.Fprintf(&b, "  [%s]\n", e.Text)
				continue
			}
			fmt.Fprintf(&b, "  %s: %s\n", e.Speaker, e.Text)
		}
	}
	return b.String()
}

func describeNpc(ref actor.ID, p combat.NpcProfile) string {
	line := fmt.Sprintf("%s (%s) HP %d/%d, armor %d", ref, p.Name, p.HP, p.MaxHP, p.Armor)
	if len(p.Status) > 0 {
		line += ", status: " + strings.Join(p.Status, ", ")
	}
	if p.Behavior != "" {
		line += ". " + p.Behavior
	}
	return line
}

func turnHeader(t round.Turn) string {
	if t.CombatRound > 0 {
		return fmt.Sprintf("Round %d, combat round %d.", t.Round, t.CombatRound)
	}
	return fmt.Sprintf("Round %d.", t.Round)
}
