package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks streamsaver/internal/engine Runner

// Runner invokes the extraction engine binary
type Runner interface {
	// Output runs the engine to completion and returns its standard output.
	Output(ctx context.Context, args []string) ([]byte, error)
	// Stream runs the engine and calls onLine for every output line, in order.
	Stream(ctx context.Context, args []string, onLine func(line string)) error
}

const maxLineSize = 1024 * 1024

// ExecRunner runs the engine as a child process. The binary is looked up
// on every call since it only becomes known once initialization finishes.
type ExecRunner struct {
	binary func() string
	logger *slog.Logger
}

// NewExecRunner creates a runner for the binary returned by binary
func NewExecRunner(binary func() string, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{binary: binary, logger: logger}
}

// Output implements Runner
func (r *ExecRunner) Output(ctx context.Context, args []string) ([]byte, error) {
	cmd, err := r.command(ctx, args)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, engineError(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Stream implements Runner. Standard error is collected for the failure
// message rather than forwarded.
func (r *ExecRunner) Stream(ctx context.Context, args []string, onLine func(line string)) error {
	cmd, err := r.command(ctx, args)
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open engine output: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	scanErr := scanLines(stdout, onLine)
	if scanErr != nil {
		// Drain so the child is never blocked on a full pipe.
		io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		return engineError(err, stderr.String())
	}
	if scanErr != nil {
		return fmt.Errorf("failed to read engine output: %w", scanErr)
	}
	return nil
}

func (r *ExecRunner) command(ctx context.Context, args []string) (*exec.Cmd, error) {
	binary := r.binary()
	if binary == "" {
		return nil, ErrNotReady
	}
	r.logger.Debug("running engine", "binary", binary, "args", args)
	return exec.CommandContext(ctx, binary, args...), nil
}

func scanLines(rd io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	return scanner.Err()
}

// engineError wraps a process failure with the engine's own message
func engineError(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg = exitErr.String()
		} else {
			msg = err.Error()
		}
	}
	return fmt.Errorf("%w: %s", ErrEngineFailed, msg)
}
