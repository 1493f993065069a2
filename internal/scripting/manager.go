package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/dice"
)

// Hook names looked up as Lua globals.
const (
	HookRoundStart  = "on_round_start"
	HookCombatStart = "on_combat_start"
	HookCombatEnd   = "on_combat_end"
)

// Manager owns one sandboxed LState and dispatches hooks to it.
//
// An LState is single-threaded; every call holds the mutex.
type Manager struct {
	mu        sync.Mutex
	L         *lua.LState
	instLimit int
	src       dice.Source
	logger    *zap.Logger
}

// NewManager creates a Manager with an empty VM.
//
// Precondition: src and logger must be non-nil; instLimit >= 0 where 0 uses
// DefaultInstructionLimit.
// Postcondition: Returns a non-nil Manager; panics when a precondition is violated.
func NewManager(src dice.Source, instLimit int, logger *zap.Logger) *Manager {
	if src == nil {
		panic("scripting: NewManager requires a dice source")
	}
	if logger == nil {
		panic("scripting: NewManager requires a logger")
	}
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	m := &Manager{instLimit: instLimit, src: src, logger: logger}
	m.L = m.newState()
	return m
}

func (m *Manager) newState() *lua.LState {
	L := NewSandboxedState()
	m.registerModules(L)
	return L
}

// Load replaces the VM with a fresh one and executes every *.lua file in scriptDir in
// lexicographic order. Each file runs under its own instruction budget.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: On error the previous VM stays in place.
func (m *Manager) Load(scriptDir string) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", scriptDir, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	L := m.newState()
	for _, path := range luaFiles {
		err := withBudget(L, m.instLimit, func() error { return L.DoFile(path) })
		if err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q: %w", path, err)
		}
	}

	m.mu.Lock()
	old := m.L
	m.L = L
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
	m.logger.Info("scripting: hooks loaded", zap.String("dir", scriptDir), zap.Int("files", len(luaFiles)))
	return nil
}

// LoadString executes src in the current VM.
func (m *Manager) LoadString(src string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.L == nil {
		return fmt.Errorf("scripting: manager is closed")
	}
	if err := withBudget(m.L, m.instLimit, func() error { return m.L.DoString(src) }); err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	return nil
}

// CallHook calls the named Lua global function. Returns LNil if the hook is not
// defined or the manager is closed. Lua runtime errors, including an exhausted
// instruction budget, are logged at Warn level and never propagated.
//
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(hook string, args ...lua.LValue) lua.LValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.L == nil {
		return lua.LNil
	}

	fn := m.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return lua.LNil
	}

	err := withBudget(m.L, m.instLimit, func() error {
		return m.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	})
	if err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil
	}

	ret := m.L.Get(-1)
	m.L.Pop(1)
	return ret
}

// notice calls hook and returns its result when it is a string.
func (m *Manager) notice(hook string, args ...lua.LValue) string {
	ret := m.CallHook(hook, args...)
	if s, ok := ret.(lua.LString); ok {
		return string(s)
	}
	if ret != lua.LNil {
		m.logger.Debug("scripting: ignoring non-string hook result",
			zap.String("hook", hook),
			zap.String("type", ret.Type().String()),
		)
	}
	return ""
}

// OnRoundStart calls on_round_start(round).
func (m *Manager) OnRoundStart(round int) string {
	return m.notice(HookRoundStart, lua.LNumber(round))
}

// OnCombatStart calls on_combat_start(combatants).
func (m *Manager) OnCombatStart(combatants int) string {
	return m.notice(HookCombatStart, lua.LNumber(combatants))
}

// OnCombatEnd calls on_combat_end(reason).
func (m *Manager) OnCombatEnd(reason string) string {
	return m.notice(HookCombatEnd, lua.LString(reason))
}

// Close releases the VM. Later hook calls return nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.L != nil {
		m.L.Close()
		m.L = nil
	}
}
