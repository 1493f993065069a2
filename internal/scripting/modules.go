package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/dice"
)

// registerModules installs the engine table:
//
//	engine.roll(sides [, modifier]) -> total
//	engine.log(message)
func (m *Manager) registerModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetField(engine, "roll", L.NewFunction(m.luaRoll))
	L.SetField(engine, "log", L.NewFunction(m.luaLog))
	L.SetGlobal("engine", engine)
}

func (m *Manager) luaRoll(L *lua.LState) int {
	sides := L.CheckInt(1)
	modifier := L.OptInt(2, 0)
	if sides < 2 {
		L.ArgError(1, "a die needs at least 2 sides")
		return 0
	}
	roll := dice.Die(m.src, sides, modifier)
	m.logger.Debug("scripting: dice roll",
		zap.Int("sides", sides),
		zap.Int("natural", roll.Natural),
		zap.Int("total", roll.Total()),
	)
	L.Push(lua.LNumber(roll.Total()))
	return 1
}

func (m *Manager) luaLog(L *lua.LState) int {
	m.logger.Info("scripting: hook log", zap.String("message", L.CheckString(1)))
	return 0
}
