// Package sandbox runs candidate actions against synthetic inputs in an
// isolated subprocess so verification never touches live systems.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

var (
	// ErrTimeout indicates the sandboxed process exceeded its deadline.
	ErrTimeout = errors.New("sandbox execution timed out")

	// ErrExecution indicates the sandbox infrastructure itself failed,
	// as opposed to the action under test exiting with failure.
	ErrExecution = errors.New("sandbox execution failed")
)

const (
	defaultExecTimeout = 30 * time.Second
	maxOutputBytes     = 64 * 1024
)

// Result is the observed outcome of one sandboxed execution.
type Result struct {
	// Outcome is success when the action completed cleanly, failure when
	// it completed with an error the action itself reported.
	Outcome memory.Outcome

	// Output is the captured combined output, truncated.
	Output string
}

// Executor runs an action against a synthetic input and reports the
// observed outcome. Infrastructure failures are returned as errors and
// are distinct from the action failing on its own terms.
type Executor interface {
	Execute(ctx context.Context, action, input string) (*Result, error)
}

// CommandConfig configures the subprocess executor.
type CommandConfig struct {
	// Command is the interpreter invoked for each execution, e.g.
	// {"sh", "-c"}. The action is appended as the final argument.
	Command []string

	// Timeout bounds a single execution.
	Timeout time.Duration

	// Dir is the working directory. Empty uses the process default.
	Dir string
}

// ApplyDefaults fills zero values with defaults.
func (c *CommandConfig) ApplyDefaults() {
	if len(c.Command) == 0 {
		c.Command = []string{"sh", "-c"}
	}
	if c.Timeout == 0 {
		c.Timeout = defaultExecTimeout
	}
}

// CommandExecutor runs actions as subprocesses. The synthetic input is
// delivered on stdin; exit status 0 maps to a success outcome and any
// other exit status to failure.
type CommandExecutor struct {
	config CommandConfig
	logger *zap.Logger
}

// NewCommandExecutor creates a subprocess executor.
func NewCommandExecutor(config CommandConfig, logger *zap.Logger) *CommandExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &CommandExecutor{config: config, logger: logger}
}

// Execute runs the action once against the input.
func (e *CommandExecutor) Execute(ctx context.Context, action, input string) (*Result, error) {
	if strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("%w: empty action", ErrExecution)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	args := append(append([]string{}, e.config.Command[1:]...), action)
	cmd := exec.CommandContext(ctx, e.config.Command[0], args...)
	cmd.Dir = e.config.Dir
	cmd.Stdin = strings.NewReader(input)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	captured := output.String()
	if len(captured) > maxOutputBytes {
		captured = captured[:maxOutputBytes]
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: after %s", ErrTimeout, e.config.Timeout)
	}

	outcome := memory.OutcomeSuccess
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Could not start or observe the process at all.
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		outcome = memory.OutcomeFailure
	}

	e.logger.Debug("sandbox execution finished",
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", duration),
	)
	return &Result{Outcome: outcome, Output: captured}, nil
}

var _ Executor = (*CommandExecutor)(nil)
