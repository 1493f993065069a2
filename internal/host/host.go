// Package host runs a table session round after round until it is stopped, publishing
// the transcript and checkpointing the state between rounds.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
)

// ErrTooManyTimeouts is returned when consecutive rounds exceed the round timeout.
var ErrTooManyTimeouts = errors.New("too many consecutive round timeouts")

// finalCheckpointTimeout bounds the checkpoint written after the run context ends.
const finalCheckpointTimeout = 5 * time.Second

// RoundRunner runs one round of a session.
type RoundRunner interface {
	RunRound(ctx context.Context, st session.State) (session.State, error)
}

// Options tunes a Host.
type Options struct {
	// MaxRounds stops the host after this many rounds. 0 runs until the context ends.
	MaxRounds int
	// RoundTimeout bounds one RunRound call. 0 disables the timeout.
	RoundTimeout time.Duration
	// MaxTimeouts is the number of consecutive timed-out rounds tolerated before Run
	// fails. 0 means 3.
	MaxTimeouts int
}

// Host drives one session.
type Host struct {
	runner       RoundRunner
	tables       *session.Manager
	checkpointer round.Checkpointer
	opts         Options
	logger       *zap.Logger
}

// New creates a Host.
//
// Precondition: runner, tables and logger must be non-nil. checkpointer may be nil.
func New(runner RoundRunner, tables *session.Manager, checkpointer round.Checkpointer, opts Options, logger *zap.Logger) *Host {
	if opts.MaxTimeouts <= 0 {
		opts.MaxTimeouts = 3
	}
	return &Host{
		runner:       runner,
		tables:       tables,
		checkpointer: checkpointer,
		opts:         opts,
		logger:       logger,
	}
}

// Run runs rounds of st until ctx ends, MaxRounds rounds have completed, or a round
// fails. A timed-out round resumes where it stopped on the next iteration.
//
// Precondition: st must be open in the Host's session.Manager.
// Postcondition: Returns the last complete state. Cancellation of ctx is a clean stop
// and returns a nil error. The returned state has been checkpointed.
func (h *Host) Run(ctx context.Context, st session.State) (session.State, error) {
	log := h.logger.With(zap.Stringer("session", st.ID))
	ran := 0
	timeouts := 0
	for {
		if h.opts.MaxRounds > 0 && ran >= h.opts.MaxRounds {
			log.Info("round limit reached", zap.Int("rounds", ran))
			return st, nil
		}
		if ctx.Err() != nil {
			log.Info("stopping table", zap.Bool("round_open", st.RoundOpen))
			h.finalCheckpoint(ctx, st, log)
			return st, nil
		}

		next, err := h.runRound(ctx, st)
		st = next
		h.publish(st, log)

		switch {
		case err == nil:
			ran++
			timeouts = 0
		case ctx.Err() != nil:
			// the loop head stops the table
		case errors.Is(err, context.DeadlineExceeded):
			timeouts++
			log.Warn("round timed out, resuming",
				zap.Duration("timeout", h.opts.RoundTimeout),
				zap.Stringer("after", st.CurrentActor),
				zap.Int("consecutive", timeouts),
			)
			if timeouts >= h.opts.MaxTimeouts {
				h.finalCheckpoint(ctx, st, log)
				return st, fmt.Errorf("%w: %d", ErrTooManyTimeouts, timeouts)
			}
		default:
			log.Error("round failed", zap.Error(err))
			h.finalCheckpoint(ctx, st, log)
			return st, err
		}
	}
}

func (h *Host) runRound(ctx context.Context, st session.State) (session.State, error) {
	if h.opts.RoundTimeout <= 0 {
		return h.runner.RunRound(ctx, st)
	}
	rctx, cancel := context.WithTimeout(ctx, h.opts.RoundTimeout)
	defer cancel()
	return h.runner.RunRound(rctx, st)
}

func (h *Host) publish(st session.State, log *zap.Logger) {
	if err := h.tables.Update(st); err != nil {
		log.Warn("publishing transcript failed", zap.Error(err))
	}
}

// finalCheckpoint saves st even when ctx has already ended.
func (h *Host) finalCheckpoint(ctx context.Context, st session.State, log *zap.Logger) {
	if h.checkpointer == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalCheckpointTimeout)
	defer cancel()
	roundNo := st.RoundsCompleted
	if st.RoundOpen {
		roundNo++
	}
	if err := h.checkpointer.Checkpoint(cctx, st, roundNo); err != nil {
		log.Warn("final checkpoint failed", zap.Error(err))
	}
}
