package round

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
)

const tracerName = "github.com/cory-johannsen/dmtable/internal/game/round"

// Executors maps each routing node to the executor that runs its turns.
// Human may be nil when no human override is ever enabled.
type Executors struct {
	Director    Executor
	Participant Executor
	Human       Executor
}

func (e Executors) forNode(n turn.Node) Executor {
	switch n {
	case turn.NodeDirector:
		return e.Director
	case turn.NodeParticipant:
		return e.Participant
	case turn.NodeHuman:
		return e.Human
	default:
		return nil
	}
}

// Option configures optional Coordinator collaborators.
type Option func(*Coordinator)

// WithCheckpointer persists the state after every turn.
func WithCheckpointer(cp Checkpointer) Option {
	return func(c *Coordinator) { c.checkpointer = cp }
}

// WithHooks consults h at round and combat boundaries.
func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithObserver reports every phase transition to obs.
func WithObserver(obs Observer) Option {
	return func(c *Coordinator) { c.observer = obs }
}

// Coordinator drives rounds.
//
// A Coordinator holds no session state and may run rounds of different sessions, but a
// single session must not be run concurrently.
type Coordinator struct {
	executors       Executors
	maxCombatRounds int
	checkpointer    Checkpointer
	hooks           Hooks
	tracer          trace.Tracer
	observer        Observer
	logger          *zap.Logger
}

// NewCoordinator creates a Coordinator.
//
// Precondition: executors.Director and executors.Participant must be non-nil;
// maxCombatRounds >= 0 where 0 means unlimited; logger must be non-nil.
// Postcondition: Returns a Coordinator, or an error if a precondition is violated.
func NewCoordinator(executors Executors, maxCombatRounds int, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if executors.Director == nil || executors.Participant == nil {
		return nil, fmt.Errorf("round: director and participant executors are required")
	}
	if maxCombatRounds < 0 {
		return nil, fmt.Errorf("round: max combat rounds must be >= 0, got %d", maxCombatRounds)
	}
	c := &Coordinator{
		executors:       executors,
		maxCombatRounds: maxCombatRounds,
		tracer:          otel.Tracer(tracerName),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunRound runs turns until the active ordering is exhausted.
//
// A state with RoundOpen set resumes after CurrentActor; otherwise a new round opens,
// which advances the combat round when combat carried over from the previous round.
//
// Precondition: st must be valid.
// Postcondition: On success the returned state has RoundOpen false and RoundsCompleted
// incremented. On error the returned state is the last complete state, which the caller
// may checkpoint and resume.
func (c *Coordinator) RunRound(ctx context.Context, st session.State) (session.State, error) {
	if err := st.Validate(); err != nil {
		return st, fmt.Errorf("round: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "round.run", trace.WithAttributes(
		attribute.String("session.id", st.ID.String()),
		attribute.Int("round", st.RoundsCompleted+1),
		attribute.Bool("round.resumed", st.RoundOpen),
	))
	defer span.End()

	st, err := c.run(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return st, err
}

func (c *Coordinator) run(ctx context.Context, st session.State) (session.State, error) {
	log := c.logger.With(zap.Stringer("session", st.ID), zap.Int("round", st.RoundsCompleted+1))
	c.observe(PhaseIdle, Turn{}, st)

	var res turn.Result
	if st.RoundOpen {
		log.Info("resuming round", zap.Stringer("after", st.CurrentActor))
		res = turn.Route(st.CurrentActor, st.RoutingView())
	} else {
		st = c.openRound(st, log)
		res = turn.First(st.RoutingView())
	}

	turns := 0
	for !res.Complete {
		if err := ctx.Err(); err != nil {
			log.Warn("round interrupted", zap.Int("turns", turns), zap.Error(err))
			return st, err
		}
		turns++
		if limit := iterationLimit(st); turns > limit {
			return st, fmt.Errorf("%w: %d turns exceed limit %d at actor %s",
				ErrIterationLimitExceeded, turns, limit, res.Target)
		}
		if res.Fallback {
			log.Warn("current actor missing from active ordering, falling back to director",
				zap.Stringer("current", st.CurrentActor),
				zap.Bool("combat", st.Combat.Active),
			)
		}

		t := c.turnFor(res, st)
		c.observe(PhaseActorExecuting, t, st)
		next, err := c.executeTurn(ctx, t, st, log)
		if err != nil {
			return st, err
		}
		st = next
		c.checkpoint(ctx, st, log)

		res = turn.Route(st.CurrentActor, st.RoutingView())
		if !res.Complete {
			c.observe(PhaseRouted, c.turnFor(res, st), st)
			log.Debug("routed",
				zap.Stringer("from", st.CurrentActor),
				zap.Stringer("next", res.Next),
				zap.Stringer("target", res.Target),
				zap.Stringer("node", res.Node),
			)
		}
	}

	st = closeRound(st)
	log.Info("round complete", zap.Int("turns", turns), zap.Bool("combat", st.Combat.Active))
	c.checkpoint(ctx, st, log)
	c.observe(PhaseRoundComplete, Turn{}, st)
	return st, nil
}

// openRound applies the round boundary: combat advance, the max-rounds end and hooks.
func (c *Coordinator) openRound(st session.State, log *zap.Logger) session.State {
	st = st.Clone()
	if st.Combat.Active && st.CombatCarried {
		advanced, forced, restored := combat.AdvanceRound(st.Combat, c.maxCombatRounds)
		if forced {
			if restored == nil {
				log.Warn("combat ended with an empty turn order snapshot, keeping turn order")
			} else {
				st.TurnOrder = restored
			}
			st.Combat = advanced
			st = st.Notice(fmt.Sprintf("Combat has reached the maximum of %d rounds and ends.", c.maxCombatRounds))
			log.Info("combat ended at max rounds", zap.Int("max_combat_rounds", c.maxCombatRounds))
			st = st.Notice(c.hookCombatEnd(EndedByMaxRounds))
		} else {
			st.Combat = advanced
			log.Info("combat round advanced", zap.Int("combat_round", advanced.RoundNumber))
		}
	}
	st.CombatCarried = false
	st.RoundOpen = true
	st.CurrentActor = actor.ID{}
	if c.hooks != nil {
		st = st.Notice(c.hooks.OnRoundStart(st.RoundsCompleted + 1))
	}
	return st
}

func closeRound(st session.State) session.State {
	st.RoundOpen = false
	st.RoundsCompleted++
	st.CombatCarried = st.Combat.Active
	st.CurrentActor = actor.ID{}
	return st
}

func (c *Coordinator) turnFor(res turn.Result, st session.State) Turn {
	return Turn{
		Node:        res.Node,
		Actor:       res.Next,
		Target:      res.Target,
		Round:       st.RoundsCompleted + 1,
		CombatRound: st.Combat.RoundNumber,
	}
}

// executeTurn runs one executor and folds its result into the session.
func (c *Coordinator) executeTurn(ctx context.Context, t Turn, st session.State, log *zap.Logger) (session.State, error) {
	exec := c.executors.forNode(t.Node)
	if exec == nil {
		return st, fmt.Errorf("%w: %s (actor %s)", ErrNoExecutor, t.Node, t.Actor)
	}

	ctx, span := c.tracer.Start(ctx, "round.turn", trace.WithAttributes(
		attribute.String("actor", t.Actor.String()),
		attribute.String("target", t.Target.String()),
		attribute.String("node", t.Node.String()),
		attribute.Int("combat.round", t.CombatRound),
	))
	defer span.End()

	log.Debug("executing turn",
		zap.Stringer("actor", t.Actor),
		zap.Stringer("target", t.Target),
		zap.Stringer("node", t.Node),
	)
	next, text, err := exec.ExecuteTurn(ctx, t, st.Clone())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return st, fmt.Errorf("round: turn of %s: %w", t.Target, err)
	}
	if next.ID != st.ID {
		return st, fmt.Errorf("%w: session id changed from %s to %s", ErrInvalidTurnResult, st.ID, next.ID)
	}
	if err := next.Validate(); err != nil {
		return st, fmt.Errorf("%w: turn of %s: %w", ErrInvalidTurnResult, t.Target, err)
	}

	next = next.Say(t.Target, text)
	next.CurrentActor = resumePoint(t.Target, st, next)
	next.RoundOpen = true
	if next.CurrentActor != t.Target {
		log.Debug("actor left the ordering on its own turn",
			zap.Stringer("actor", t.Target),
			zap.Stringer("resume_after", next.CurrentActor),
		)
	}

	switch {
	case !st.Combat.Active && next.Combat.Active:
		log.Info("combat started",
			zap.Int("combatants", len(next.Combat.InitiativeOrder)-1),
			zap.Strings("initiative", actor.Strings(next.Combat.InitiativeOrder)),
		)
		if c.hooks != nil {
			next = next.Notice(c.hooks.OnCombatStart(len(next.Combat.InitiativeOrder) - 1))
		}
	case st.Combat.Active && !next.Combat.Active:
		log.Info("combat ended", zap.Stringer("by", t.Actor))
		next = next.Notice(c.hookCombatEnd(EndedByDirector))
	}
	return next, nil
}

// resumePoint returns the position routing continues from after target's turn.
//
// Postcondition: When target left the active ordering during its own turn and the mode
// did not change, returns the nearest earlier position of the previous ordering still
// present in the new one; otherwise returns target.
func resumePoint(target actor.ID, before, after session.State) actor.ID {
	if before.Combat.Active != after.Combat.Active {
		return target
	}
	now := after.RoutingView().ActiveOrdering()
	if actor.IndexOf(now, target) >= 0 {
		return target
	}
	prev := before.RoutingView().ActiveOrdering()
	for i := actor.IndexOf(prev, target) - 1; i >= 0; i-- {
		if actor.IndexOf(now, prev[i]) >= 0 {
			return prev[i]
		}
	}
	return target
}

func (c *Coordinator) hookCombatEnd(reason string) string {
	if c.hooks == nil {
		return ""
	}
	return c.hooks.OnCombatEnd(reason)
}

func (c *Coordinator) checkpoint(ctx context.Context, st session.State, log *zap.Logger) {
	if c.checkpointer == nil {
		return
	}
	round := st.RoundsCompleted
	if st.RoundOpen {
		round++
	}
	if err := c.checkpointer.Checkpoint(ctx, st.Clone(), round); err != nil {
		log.Warn("checkpoint failed", zap.Int("checkpoint_round", round), zap.Error(err))
	}
}

func (c *Coordinator) observe(p Phase, t Turn, st session.State) {
	if c.observer != nil {
		c.observer(p, t, st)
	}
}

// iterationLimit bounds the turns of a round by its longest ordering.
func iterationLimit(st session.State) int {
	return max(len(st.TurnOrder), len(st.Combat.InitiativeOrder)) + guardSlack
}
