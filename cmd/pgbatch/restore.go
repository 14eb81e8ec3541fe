package main

import (
	"fmt"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	var (
		conn connectionFlags
		file string
	)

	cmd := &cobra.Command{
		Use:   "restore -f FILE [flags] [-- pg_restore args...]",
		Short: "Restore a backup produced by pgbatch backup or pg_dump",
		Long: `Restore an archive into an existing, preferably blank database.

A split archive (a directory holding a manifest.json) is restored batch by
batch: each batch runs up to --jobs pg_restore processes at once, and the
next batch only starts when every process of the current one succeeded.
Plain directory and single-file archives are restored with one pg_restore
call that receives -j directly.

Arguments after -- are passed to every pg_restore call after the generated
flags. They override generated flags such as -w, -Fd or -j, so use them
with care.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, &conn, file, args)
		},
	}

	conn.register(cmd.Flags())
	cmd.Flags().StringVarP(&file, "file", "f", "", "archive to restore from (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runRestore(cmd *cobra.Command, conn *connectionFlags, file string, extraArgs []string) error {
	job, cfg, err := jobFor(cmd, conn)
	if err != nil {
		return err
	}
	job.Restore = &models.RestoreRequest{
		ArchivePath: file,
		ExtraArgs:   extraArgs,
	}

	log.Info().
		Str("archive", file).
		Str("database", job.Connection.Database).
		Int("jobs", job.Connection.Jobs).
		Strs("extra_args", extraArgs).
		Msg("starting restore")

	ctx, cancel := signalContext()
	defer cancel()

	result, err := newRunner(log.Logger, cfg.Postgres.SSLMode).Restore(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("restore failed")
		reportFailure(cmd.ErrOrStderr(), "restore", err)
		return err
	}

	log.Info().
		Str("layout", string(result.Layout)).
		Int("batches", result.Batches).
		Int("targets", result.Targets).
		Dur("duration", result.Duration).
		Msg("restore completed successfully")

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully restored to the database called: %s\n", job.Connection.Database)
	return nil
}
