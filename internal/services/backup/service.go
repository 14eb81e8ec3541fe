// Package backup provides pg_dump operations producing pgbatch archives.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/fgeck/pgbatch/internal/services/archive"
	"github.com/fgeck/pgbatch/internal/services/catalog"
	"github.com/fgeck/pgbatch/internal/services/planner"
	"github.com/fgeck/pgbatch/internal/services/process"
	"github.com/rs/zerolog"
)

// Binary is the dump tool invoked by the runner.
const Binary = "pg_dump"

// pg_dump sections of a split archive.
const (
	sectionPreData  = "pre-data"
	sectionData     = "data"
	sectionPostData = "post-data"
)

// Service defines the interface for backup operations.
type Service interface {
	Backup(ctx context.Context, cfg models.ConnectionConfig, req models.BackupRequest) (*models.BackupResult, error)
}

// BackupFailure is returned when a pg_dump invocation fails.
type BackupFailure struct {
	Output string
	Target string // empty for a single dump
	Cause  *models.SubprocessFailure
}

func (e *BackupFailure) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("backup to %s failed: %v", e.Output, e.Cause)
	}
	return fmt.Sprintf("backup to %s failed at %s: %v", e.Output, e.Target, e.Cause)
}

func (e *BackupFailure) Unwrap() error {
	return e.Cause
}

// Impl implements the backup Service interface.
type Impl struct {
	invoker process.Invoker
	catalog catalog.Service
	sslMode string
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a new backup service running the real pg_dump.
func New(logger zerolog.Logger, sslMode string) *Impl {
	return NewWithServices(logger, process.New(logger), catalog.New(logger), sslMode)
}

// NewWithServices creates a new backup service with custom collaborators (for testing).
func NewWithServices(logger zerolog.Logger, invoker process.Invoker, cat catalog.Service, sslMode string) *Impl {
	return &Impl{
		invoker: invoker,
		catalog: cat,
		sslMode: sslMode,
		logger:  logger,
		now:     time.Now,
	}
}

// Backup dumps the database described by cfg to req.OutputPath in directory
// format. With a zero batch size pg_dump runs once with cfg.Jobs workers;
// otherwise a split archive is written: a pre-data sub-dump, one data
// sub-dump per group of req.BatchSize tables, a post-data sub-dump and a
// manifest listing them in restore order.
func (s *Impl) Backup(ctx context.Context, cfg models.ConnectionConfig, req models.BackupRequest) (*models.BackupResult, error) {
	if req.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	if req.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must not be negative, got %d", req.BatchSize)
	}
	if _, err := os.Stat(filepath.Join(req.OutputPath, archive.ManifestFile)); err == nil {
		return nil, fmt.Errorf("%s already contains an archive", req.OutputPath)
	}

	_, statErr := os.Stat(req.OutputPath)
	created := errors.Is(statErr, fs.ErrNotExist)

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("output", req.OutputPath).
		Int("batch_size", req.BatchSize).
		Int("jobs", cfg.Jobs).
		Msg("starting backup")

	start := time.Now()
	result := &models.BackupResult{
		Database:   cfg.Database,
		OutputPath: req.OutputPath,
		Layout:     models.LayoutDirectory,
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if req.BatchSize == 0 {
		err = s.dump(ctx, cfg, "", nil, req.OutputPath, req.ExtraArgs)
	} else {
		result.Layout = models.LayoutSplit
		err = s.backupSplit(ctx, cfg, req, result)
	}

	result.Duration = time.Since(start)
	if err != nil {
		if created {
			// Clean up partial archive
			_ = os.RemoveAll(req.OutputPath)
		}
		return result, err
	}

	result.SizeBytes = dirSize(req.OutputPath)

	s.logger.Info().
		Str("output", req.OutputPath).
		Int("tables", result.Tables).
		Int("targets", result.Targets).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("backup completed")

	return result, nil
}

func (s *Impl) backupSplit(ctx context.Context, cfg models.ConnectionConfig, req models.BackupRequest, result *models.BackupResult) error {
	tables, err := s.catalog.ListTables(ctx, cfg, s.sslMode)
	if err != nil {
		return err
	}
	result.Tables = len(tables)

	if err := os.MkdirAll(req.OutputPath, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	groups := planner.Plan(tables, req.BatchSize)
	m := &archive.Manifest{
		Version:   archive.ManifestVersion,
		Database:  cfg.Database,
		CreatedAt: s.now().UTC(),
		PreData:   &archive.Entry{Name: sectionPreData, Path: fmt.Sprintf("%04d-%s", 0, sectionPreData)},
		PostData:  &archive.Entry{Name: sectionPostData, Path: fmt.Sprintf("%04d-%s", len(groups)+1, sectionPostData)},
	}
	for i, group := range groups {
		m.Targets = append(m.Targets, archive.Entry{
			Name:   fmt.Sprintf("data-%04d", i+1),
			Path:   fmt.Sprintf("%04d-%s", i+1, sectionData),
			Tables: group,
		})
	}
	result.Targets = len(m.Targets)

	entries := make([]archive.Entry, 0, len(m.Targets)+2)
	entries = append(entries, *m.PreData)
	entries = append(entries, m.Targets...)
	entries = append(entries, *m.PostData)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backup interrupted before %s: %w", e.Name, err)
		}

		section := sectionData
		switch e.Name {
		case sectionPreData, sectionPostData:
			section = e.Name
		}

		args := []string{"--section=" + section}
		for _, table := range e.Tables {
			args = append(args, "-t", table)
		}

		if err := s.dump(ctx, cfg, e.Name, args, filepath.Join(req.OutputPath, e.Path), req.ExtraArgs); err != nil {
			return err
		}
	}

	return archive.WriteManifest(req.OutputPath, m)
}

// dump runs one pg_dump invocation. Extra args follow every generated flag.
func (s *Impl) dump(
	ctx context.Context,
	cfg models.ConnectionConfig,
	name string,
	args []string,
	outputPath string,
	extraArgs []string,
) error {
	command := []string{Binary, "-Fd"}
	if cfg.Jobs > 1 {
		command = append(command, "-j", strconv.Itoa(cfg.Jobs))
	}
	command = append(command, cfg.ToolArgs()...)
	command = append(command, args...)
	command = append(command, "-f", outputPath)
	command = append(command, extraArgs...)

	if _, err := s.invoker.Run(ctx, command); err != nil {
		var subErr *models.SubprocessFailure
		if errors.As(err, &subErr) {
			s.logger.Error().
				Str("target", name).
				Int("exit_code", subErr.ExitCode).
				Str("command", subErr.CommandLine()).
				Msg("pg_dump failed")
			return &BackupFailure{Output: outputPath, Target: name, Cause: subErr}
		}
		return fmt.Errorf("pg_dump failed: %w", err)
	}

	if name != "" {
		s.logger.Info().Str("target", name).Str("output", outputPath).Msg("sub-dump completed")
	}
	return nil
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // size is best effort
		}
		if info, infoErr := d.Info(); infoErr == nil && !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
