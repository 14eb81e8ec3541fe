// Package runner orchestrates a restore or backup job.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/fgeck/pgbatch/internal/services/backup"
	"github.com/fgeck/pgbatch/internal/services/catalog"
	"github.com/fgeck/pgbatch/internal/services/restore"
	"github.com/fgeck/pgbatch/internal/services/ssh"
	"github.com/fgeck/pgbatch/internal/services/telegram"
	"github.com/fgeck/pgbatch/internal/services/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for the job runner.
type Service interface {
	Restore(ctx context.Context, job models.Job) (*models.RestoreResult, error)
	Backup(ctx context.Context, job models.Job) (*models.BackupResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	restoreSvc  restore.Service
	backupSvc   backup.Service
	wolSvc      wol.Service
	telegramSvc telegram.Service
	sshSvc      ssh.Service
	sslMode     string
	logger      zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger, sslMode string) *Impl {
	return &Impl{
		restoreSvc:  restore.New(logger),
		backupSvc:   backup.New(logger, sslMode),
		wolSvc:      wol.New(logger, catalog.New(logger)),
		telegramSvc: telegram.New(logger),
		sshSvc:      ssh.New(logger),
		sslMode:     sslMode,
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	restoreSvc restore.Service,
	backupSvc backup.Service,
	wolSvc wol.Service,
	telegramSvc telegram.Service,
	sshSvc ssh.Service,
	sslMode string,
) *Impl {
	return &Impl{
		restoreSvc:  restoreSvc,
		backupSvc:   backupSvc,
		wolSvc:      wolSvc,
		telegramSvc: telegramSvc,
		sshSvc:      sshSvc,
		sslMode:     sslMode,
		logger:      logger,
	}
}

// Restore wakes the database host if configured, restores the archive, shuts
// the host down again if configured and reports the outcome to Telegram if
// configured. The host is only shut down after a successful restore.
func (s *Impl) Restore(ctx context.Context, job models.Job) (result *models.RestoreResult, err error) {
	if job.Restore == nil {
		return nil, errors.New("restore job without a restore request")
	}

	var failedStep string
	startTime := time.Now()
	defer func() {
		if job.Telegram == nil {
			return
		}
		msg := s.baseMessage(job, models.OperationRestore, startTime, failedStep, err)
		msg.Archive = job.Restore.ArchivePath
		if result != nil {
			msg.Layout = result.Layout
			msg.Batches = result.Batches
			msg.Targets = result.Targets
		}
		s.sendNotification(ctx, *job.Telegram, msg)
	}()

	if job.WOL != nil {
		failedStep = "wol"
		if err = s.runWOL(ctx, job); err != nil {
			return nil, err
		}
	}

	failedStep = string(models.OperationRestore)
	result, err = s.restoreSvc.Restore(ctx, job.Connection, *job.Restore)
	if err != nil {
		return result, err
	}

	if job.SSHShutdown != nil {
		failedStep = "ssh_shutdown"
		if err = s.runSSHShutdown(ctx, *job.SSHShutdown); err != nil {
			return result, err
		}
	}

	failedStep = ""
	return result, nil
}

// Backup is Restore's counterpart: wake, dump, shut down, notify.
func (s *Impl) Backup(ctx context.Context, job models.Job) (result *models.BackupResult, err error) {
	if job.Backup == nil {
		return nil, errors.New("backup job without a backup request")
	}

	var failedStep string
	startTime := time.Now()
	defer func() {
		if job.Telegram == nil {
			return
		}
		msg := s.baseMessage(job, models.OperationBackup, startTime, failedStep, err)
		msg.Archive = job.Backup.OutputPath
		if result != nil {
			msg.Layout = result.Layout
			msg.Tables = result.Tables
			msg.Targets = result.Targets
			msg.Size = result.SizeBytes
		}
		s.sendNotification(ctx, *job.Telegram, msg)
	}()

	if job.WOL != nil {
		failedStep = "wol"
		if err = s.runWOL(ctx, job); err != nil {
			return nil, err
		}
	}

	failedStep = string(models.OperationBackup)
	result, err = s.backupSvc.Backup(ctx, job.Connection, *job.Backup)
	if err != nil {
		return result, err
	}

	if job.SSHShutdown != nil {
		failedStep = "ssh_shutdown"
		if err = s.runSSHShutdown(ctx, *job.SSHShutdown); err != nil {
			return result, err
		}
	}

	failedStep = ""
	return result, nil
}

func (s *Impl) runWOL(ctx context.Context, job models.Job) error {
	s.logger.Info().
		Str("mac", job.WOL.MACAddress).
		Str("host", job.Connection.Host).
		Msg("waking database host")

	result, err := s.wolSvc.Wake(ctx, *job.WOL, job.Connection, s.sslMode)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.DatabaseReady {
		return fmt.Errorf("database did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runSSHShutdown(ctx context.Context, cfg models.SSHShutdownConfig) error {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("delay", cfg.ShutdownDelay).
		Msg("initiating remote shutdown")

	result, err := s.sshSvc.Shutdown(ctx, cfg)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	if result.Error != nil {
		// Once the command ran, the host may drop the connection on its way down.
		if !result.CommandRun {
			return fmt.Errorf("SSH shutdown failed: %w", result.Error)
		}
		s.logger.Warn().
			Err(result.Error).
			Str("output", result.Output).
			Msg("shutdown command returned error (may be expected)")
	}

	s.logger.Info().
		Bool("command_run", result.CommandRun).
		Msg("SSH shutdown command sent")

	return nil
}

func (s *Impl) baseMessage(
	job models.Job,
	op models.Operation,
	startTime time.Time,
	failedStep string,
	runErr error,
) models.TelegramMessage {
	msg := models.TelegramMessage{
		Operation: op,
		Success:   runErr == nil,
		Host:      job.Connection.Host,
		Database:  job.Connection.Database,
		StartTime: startTime,
		Duration:  time.Since(startTime),
	}

	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
		var subErr *models.SubprocessFailure
		if errors.As(runErr, &subErr) {
			msg.FailedCommand = subErr.CommandLine()
			msg.ExitCode = subErr.ExitCode
		}
	}

	return msg
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) {
	// Notify even when the run was interrupted.
	ctx = context.WithoutCancel(ctx)

	result, err := s.telegramSvc.SendNotification(ctx, cfg, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}
