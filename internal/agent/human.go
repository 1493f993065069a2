package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmtable/internal/game/round"
	"github.com/cory-johannsen/dmtable/internal/game/session"
	"github.com/cory-johannsen/dmtable/internal/game/turn"
)

// ReleaseCommand typed by the human hands the controlled participant back to its AI.
const ReleaseCommand = "/release"

// HumanInput reads one line typed by the human.
type HumanInput interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
}

// LineReader is a HumanInput over a text stream, typically stdin.
type LineReader struct {
	out   io.Writer
	lines chan string
	errs  chan error
}

// NewLineReader starts reading lines from in. Prompts are written to out.
//
// Postcondition: A goroutine reads in until EOF or error; it is not stopped by ctx.
func NewLineReader(in io.Reader, out io.Writer) *LineReader {
	r := &LineReader{
		out:   out,
		lines: make(chan string),
		errs:  make(chan error, 1),
	}
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			r.lines <- sc.Text()
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		r.errs <- err
	}()
	return r
}

// ReadLine writes prompt and waits for the next line.
func (r *LineReader) ReadLine(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		if _, err := fmt.Fprint(r.out, prompt); err != nil {
			return "", err
		}
	}
	select {
	case line := <-r.lines:
		return line, nil
	case err := <-r.errs:
		r.errs <- err
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HumanProxy runs the turns of the participant the human controls.
type HumanProxy struct {
	input  HumanInput
	logger *zap.Logger
}

// NewHumanProxy creates the human-proxy executor.
//
// Precondition: input and logger must be non-nil.
func NewHumanProxy(input HumanInput, logger *zap.Logger) *HumanProxy {
	return &HumanProxy{input: input, logger: logger}
}

// ExecuteTurn records the line the human typed as the controlled participant's
// utterance. Typing ReleaseCommand disables the override, and the turn passes silently.
// End of input also disables the override.
func (h *HumanProxy) ExecuteTurn(ctx context.Context, t round.Turn, st session.State) (session.State, string, error) {
	line, err := h.input.ReadLine(ctx, fmt.Sprintf("[%s] you play %s > ", turnHeader(t), t.Target))
	if errors.Is(err, io.EOF) {
		h.logger.Info("human input closed, releasing control", zap.Stringer("participant", t.Target))
		st.Override = turn.Override{}
		return st, "", nil
	}
	if err != nil {
		return st, "", fmt.Errorf("human input for %s: %w", t.Target, err)
	}
	line = strings.TrimSpace(line)
	if line == ReleaseCommand {
		h.logger.Info("human released control", zap.Stringer("participant", t.Target))
		st.Override = turn.Override{}
		return st, "", nil
	}
	return st, line, nil
}
