// Package process runs external commands such as pg_dump and pg_restore.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/rs/zerolog"
)

// ErrEmptyCommand is returned when Run is called without any tokens.
var ErrEmptyCommand = errors.New("empty command")

// Invoker defines the interface for running a single external command.
//
// Run returns the result for any exit code. A non-zero exit additionally
// returns a *models.SubprocessFailure carrying the full command.
type Invoker interface {
	Run(ctx context.Context, command []string) (*models.CommandResult, error)
}

// Impl runs commands with os/exec and streams their output while capturing it.
type Impl struct {
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
}

// New creates an invoker streaming child output to os.Stdout and os.Stderr.
func New(logger zerolog.Logger) *Impl {
	return NewWithWriters(logger, os.Stdout, os.Stderr)
}

// NewWithWriters creates an invoker streaming child output to the given writers.
// The writers are shared safely between concurrent invocations.
func NewWithWriters(logger zerolog.Logger, stdout, stderr io.Writer) *Impl {
	return &Impl{
		stdout: &lockedWriter{w: stdout},
		stderr: &lockedWriter{w: stderr},
		logger: logger,
	}
}

// Run starts the command and waits for it to exit. The context is only
// checked before launch; a started process always runs to completion.
func (s *Impl) Run(ctx context.Context, command []string) (*models.CommandResult, error) {
	if len(command) == 0 {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("not starting %s: %w", command[0], err)
	}

	s.logger.Debug().Strs("command", command).Msg("starting command")

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd := exec.Command(command[0], command[1:]...) //nolint:gosec // tokens are built by the caller
	cmd.Stdin = nil
	cmd.Stdout = io.MultiWriter(s.stdout, &stdoutBuf)
	cmd.Stderr = io.MultiWriter(s.stderr, &stderrBuf)

	start := time.Now()
	err := cmd.Run()

	result := &models.CommandResult{
		Command:  append([]string{}, command...),
		ExitCode: exitCode(cmd, err),
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil || result.ExitCode != 0 {
		s.logger.Debug().
			Str("command", command[0]).
			Int("exit_code", result.ExitCode).
			Dur("duration", result.Duration).
			Msg("command failed")
		return result, &models.SubprocessFailure{
			Command:  result.Command,
			ExitCode: result.ExitCode,
			Err:      err,
		}
	}

	s.logger.Debug().
		Str("command", command[0]).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// lockedWriter serialises writes from concurrently running commands.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
