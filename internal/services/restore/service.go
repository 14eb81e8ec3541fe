// Package restore provides batched, parallel pg_restore operations.
package restore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/fgeck/pgbatch/internal/services/archive"
	"github.com/fgeck/pgbatch/internal/services/planner"
	"github.com/fgeck/pgbatch/internal/services/process"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Binary is the restore tool invoked by the runner.
const Binary = "pg_restore"

// Service defines the interface for restore operations.
type Service interface {
	Restore(ctx context.Context, cfg models.ConnectionConfig, req models.RestoreRequest) (*models.RestoreResult, error)
}

// RestoreFailure is returned when a pg_restore invocation fails. It wraps the
// first SubprocessFailure recorded, so the exact command can be reproduced.
type RestoreFailure struct {
	Archive string
	Target  string // empty for a single top-level invocation
	Batch   int    // 1-based, 0 when the failure happened outside a batch
	Cause   *models.SubprocessFailure
}

func (e *RestoreFailure) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("restore of %s failed: %v", e.Archive, e.Cause)
	}
	return fmt.Sprintf("restore of %s failed at target %s: %v", e.Archive, e.Target, e.Cause)
}

func (e *RestoreFailure) Unwrap() error {
	return e.Cause
}

// Impl implements the restore Service interface.
type Impl struct {
	invoker process.Invoker
	logger  zerolog.Logger
}

// New creates a new restore service running the real pg_restore.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		invoker: process.New(logger),
		logger:  logger,
	}
}

// NewWithInvoker creates a new restore service with a custom invoker (for testing).
func NewWithInvoker(logger zerolog.Logger, invoker process.Invoker) *Impl {
	return &Impl{
		invoker: invoker,
		logger:  logger,
	}
}

// Restore restores the archive in req into the database described by cfg.
//
// Split archives are restored target by target: batches of up to cfg.Jobs
// targets run concurrently, batches run in order. When a target fails the
// rest of its batch is allowed to finish but no further batch is started.
// Single-file and plain directory archives are restored with one invocation
// that passes cfg.Jobs to pg_restore itself.
//
// The returned result is non-nil whenever the archive could be inspected,
// including on failure.
func (s *Impl) Restore(ctx context.Context, cfg models.ConnectionConfig, req models.RestoreRequest) (*models.RestoreResult, error) {
	start := time.Now()

	a, err := archive.Inspect(req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect archive: %w", err)
	}

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("archive", a.Path).
		Str("layout", string(a.Layout)).
		Int("jobs", cfg.Jobs).
		Msg("starting restore")

	result := &models.RestoreResult{
		Database:    cfg.Database,
		ArchivePath: a.Path,
		Layout:      a.Layout,
	}

	if a.Layout == models.LayoutSplit {
		err = s.restoreSplit(ctx, cfg, a, req.ExtraArgs, result)
	} else {
		result.Invocations++
		err = s.restoreEntry(ctx, cfg, a, "", a.Path, a.Layout == models.LayoutDirectory, req.ExtraArgs)
	}

	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	s.logger.Info().
		Str("database", cfg.Database).
		Int("batches", result.Batches).
		Int("targets", result.Targets).
		Dur("duration", result.Duration).
		Msg("restore completed")

	return result, nil
}

func (s *Impl) restoreSplit(
	ctx context.Context,
	cfg models.ConnectionConfig,
	a *archive.Archive,
	extraArgs []string,
	result *models.RestoreResult,
) error {
	m := a.Manifest
	result.Targets = len(m.Targets)

	if m.PreData != nil {
		result.Invocations++
		if err := s.restoreEntry(ctx, cfg, a, m.PreData.Name, a.EntryPath(*m.PreData), true, extraArgs); err != nil {
			return err
		}
	}

	batches := planner.Plan(m.Targets, cfg.Jobs)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore interrupted before batch %d of %d: %w", i+1, len(batches), err)
		}

		result.Batches++
		result.Invocations += len(batch)
		if err := s.restoreBatch(ctx, cfg, a, i+1, batch, extraArgs); err != nil {
			s.logger.Error().
				Err(err).
				Int("batch", i+1).
				Int("skipped_batches", len(batches)-i-1).
				Msg("batch failed, not starting further batches")
			return err
		}
	}

	if m.PostData != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore interrupted before post-data: %w", err)
		}
		result.Invocations++
		if err := s.restoreEntry(ctx, cfg, a, m.PostData.Name, a.EntryPath(*m.PostData), true, extraArgs); err != nil {
			return err
		}
	}

	return nil
}

// restoreBatch runs every target of the batch concurrently and waits for all
// of them, returning the first failure.
func (s *Impl) restoreBatch(
	ctx context.Context,
	cfg models.ConnectionConfig,
	a *archive.Archive,
	batchNo int,
	batch []archive.Entry,
	extraArgs []string,
) error {
	s.logger.Info().
		Int("batch", batchNo).
		Int("targets", len(batch)).
		Msg("starting batch")

	var g errgroup.Group
	for _, target := range batch {
		target := target
		g.Go(func() error {
			command := s.command(cfg, true, 1, extraArgs, a.EntryPath(target))
			if _, err := s.invoker.Run(ctx, command); err != nil {
				return s.failure(a, target.Name, batchNo, err)
			}

			s.logger.Info().
				Int("batch", batchNo).
				Str("target", target.Name).
				Strs("tables", target.Tables).
				Msg("target restored")
			return nil
		})
	}

	return g.Wait()
}

// restoreEntry restores a single archive or sub-dump with one invocation.
func (s *Impl) restoreEntry(
	ctx context.Context,
	cfg models.ConnectionConfig,
	a *archive.Archive,
	name string,
	path string,
	directory bool,
	extraArgs []string,
) error {
	command := s.command(cfg, directory, cfg.Jobs, extraArgs, path)
	if _, err := s.invoker.Run(ctx, command); err != nil {
		return s.failure(a, name, 0, err)
	}

	if name != "" {
		s.logger.Info().Str("target", name).Msg("target restored")
	}
	return nil
}

// command builds the pg_restore invocation. Extra args follow every generated
// flag, so a repeated flag in extraArgs overrides the generated one.
func (s *Impl) command(cfg models.ConnectionConfig, directory bool, jobs int, extraArgs []string, path string) []string {
	command := []string{Binary}
	if directory {
		command = append(command, "-Fd")
	}
	if jobs > 1 {
		command = append(command, "-j", strconv.Itoa(jobs))
	}
	command = append(command, cfg.ToolArgs()...)
	command = append(command, extraArgs...)
	return append(command, path)
}

func (s *Impl) failure(a *archive.Archive, target string, batchNo int, err error) error {
	var subErr *models.SubprocessFailure
	if !errors.As(err, &subErr) {
		if target == "" {
			return fmt.Errorf("restore of %s failed: %w", a.Path, err)
		}
		return fmt.Errorf("restore of %s failed at target %s: %w", a.Path, target, err)
	}

	s.logger.Error().
		Str("target", target).
		Int("batch", batchNo).
		Int("exit_code", subErr.ExitCode).
		Str("command", subErr.CommandLine()).
		Msg("pg_restore failed")

	return &RestoreFailure{
		Archive: a.Path,
		Target:  target,
		Batch:   batchNo,
		Cause:   subErr,
	}
}
