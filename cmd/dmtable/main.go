// Package main provides the dmtable binary: a director and AI participants playing a
// narrative session round by round, optionally with a human taking over one participant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/agent"
	"github.com/cory-johannsen/dmtable/internal/config"
	"github.com/cory-johannsen/dmtable/internal/game/actor"
	"github.com/cory-johannsen/dmtable/internal/game/bestiary"
	"github.com/cory-johannsen/dmtable/internal/game/combat"
	"github.com/cory-johannsen/dmtable/internal/game/dice"
	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
	"github.com/cory-johannsen/dmtable/internal/host"
	"github.com/cory-johannsen/dmtable/internal/observability"
	"github.com/cory-johannsen/dmtable/internal/scripting"
	"github.com/cory-johannsen/dmtable/internal/server"
	"github.com/cory-johannsen/dmtable/internal/storage"
	"github.com/cory-johannsen/dmtable/internal/storage/memory"
	"github.com/cory-johannsen/dmtable/internal/storage/postgres"
	"github.com/cory-johannsen/dmtable/internal/storage/sqlite"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	resume := flag.String("resume", "", "session id to resume, or \"latest\"")
	human := flag.String("human", "", "participant id the human plays from stdin")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("initializing tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("flushing traces", zap.Error(err))
		}
	}()

	var src dice.Source = dice.NewCryptoSource()
	if cfg.Session.DiceSeed != 0 {
		src = dice.NewSeededSource(cfg.Session.DiceSeed)
	}
	initiative := combat.NewDiceInitiative(dice.NewRoller(src, logger))

	bstStart := time.Now()
	bst, err := bestiary.Load(cfg.Session.BestiaryDir)
	if err != nil {
		logger.Fatal("loading bestiary", zap.Error(err))
	}
	logger.Info("bestiary loaded",
		zap.Int("templates", bst.Len()),
		zap.Duration("elapsed", time.Since(bstStart)),
	)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening checkpoint store", zap.Error(err))
	}
	defer store.Close()

	narrator, err := agent.NewAnthropicNarrator(cfg.LLM, logger)
	if err != nil {
		logger.Fatal("creating narrator", zap.Error(err))
	}

	opts := []round.Option{round.WithCheckpointer(store)}
	if cfg.Session.HooksDir != "" {
		hooks := scripting.NewManager(src, cfg.Session.ScriptInstructionLimit, logger)
		defer hooks.Close()
		if err := hooks.Load(cfg.Session.HooksDir); err != nil {
			logger.Fatal("loading hooks", zap.Error(err))
		}
		opts = append(opts, round.WithHooks(hooks))
	}

	executors := round.Executors{
		Director:    agent.NewDirector(narrator, bst, initiative, cfg.Session.History, logger),
		Participant: agent.NewParticipant(narrator, cfg.Session.Personas(), cfg.Session.History, logger),
		Human:       agent.NewHumanProxy(agent.NewLineReader(os.Stdin, os.Stdout), logger),
	}
	coordinator, err := round.NewCoordinator(executors, cfg.Session.MaxCombatRounds, logger, opts...)
	if err != nil {
		logger.Fatal("creating coordinator", zap.Error(err))
	}

	st, err := initialState(ctx, cfg.Session, store, *resume)
	if err != nil {
		logger.Fatal("preparing session", zap.Error(err))
	}
	if *human != "" {
		st, err = takeControl(st, *human)
		if err != nil {
			logger.Fatal("enabling human override", zap.Error(err))
		}
	}

	tables := session.NewManager()
	table, err := tables.Open(st)
	if err != nil {
		logger.Fatal("opening table", zap.Error(err))
	}

	runner := host.New(coordinator, tables, store, host.Options{
		MaxRounds:    cfg.Session.MaxRounds,
		RoundTimeout: cfg.Session.RoundTimeout,
	}, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("transcript", &server.FuncService{
		StartFn: func(context.Context) error { return host.PrintFeed(os.Stdout, table.Feed) },
		StopFn:  func() { _ = tables.Close(st.ID) },
	})
	tableDone := make(chan struct{})
	lifecycle.Add("table", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			defer close(tableDone)
			_, err := runner.Run(ctx, st)
			return err
		},
		StopFn: func() { <-tableDone },
	})

	logger.Info("table ready",
		zap.Stringer("session", st.ID),
		zap.Strings("turn_order", actor.Strings(st.TurnOrder)),
		zap.Int("rounds_completed", st.RoundsCompleted),
		zap.Bool("human_override", st.Override.Enabled),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("table stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		return postgres.OpenCheckpointStore(pool), nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}

// initialState resumes a checkpoint or starts a fresh session from the configured table.
func initialState(ctx context.Context, cfg config.SessionConfig, store storage.Store, resume string) (session.State, error) {
	if resume != "" {
		id, err := resolveSessionID(ctx, store, resume)
		if err != nil {
			return session.State{}, err
		}
		return store.Load(ctx, id)
	}
	order, err := cfg.TurnOrder()
	if err != nil {
		return session.State{}, err
	}
	director, err := actor.Parse(cfg.Director)
	if err != nil {
		return session.State{}, err
	}
	proxy, err := actor.Parse(cfg.HumanProxy)
	if err != nil {
		return session.State{}, err
	}
	return session.New(director, proxy, order)
}

func resolveSessionID(ctx context.Context, store storage.Store, resume string) (uuid.UUID, error) {
	if resume == "latest" {
		id, err := storage.Latest(ctx, store)
		if errors.Is(err, storage.ErrCheckpointNotFound) {
			return uuid.Nil, fmt.Errorf("no checkpoint to resume: %w", err)
		}
		return id, err
	}
	id, err := uuid.Parse(resume)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing session id %q: %w", resume, err)
	}
	return id, nil
}

func takeControl(st session.State, participant string) (session.State, error) {
	id, err := actor.Parse(participant)
	if err != nil {
		return st, err
	}
	if actor.IndexOf(st.TurnOrder, id) < 0 {
		return st, fmt.Errorf("%s is not at the table", id)
	}
	st.Override = turn.Override{Enabled: true, ControlledActor: id}
	return st, st.Validate()
}
