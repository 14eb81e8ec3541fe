package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/pgbatch/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	var (
		conn      connectionFlags
		output    string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "backup -f OUTPUT [flags] [-- pg_dump args...]",
		Short: "Dump a database into a directory archive",
		Long: `Dump a database with pg_dump in directory format.

With --batch-size 0 a single pg_dump call writes a plain directory archive
using -j for parallelism. With a positive --batch-size the tables are split
into batches of that size and each batch is dumped into its own
sub-archive next to a manifest.json, with the schema before and after the
data dumped separately. pgbatch restore replays such an archive batch by
batch.

Arguments after -- are passed to every pg_dump call after the generated
flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, &conn, output, batchSize, args)
		},
	}

	conn.register(cmd.Flags())
	cmd.Flags().StringVarP(&output, "file", "f", "", "directory to write the archive to (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "tables per sub-dump, 0 for one plain directory archive")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runBackup(cmd *cobra.Command, conn *connectionFlags, output string, batchSize int, extraArgs []string) error {
	job, cfg, err := jobFor(cmd, conn)
	if err != nil {
		return err
	}
	job.Backup = &models.BackupRequest{
		OutputPath: output,
		BatchSize:  batchSize,
		ExtraArgs:  extraArgs,
	}

	log.Info().
		Str("output", output).
		Str("database", job.Connection.Database).
		Int("jobs", job.Connection.Jobs).
		Int("batch_size", batchSize).
		Msg("starting backup")

	ctx, cancel := signalContext()
	defer cancel()

	result, err := newRunner(log.Logger, cfg.Postgres.SSLMode).Backup(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		reportFailure(cmd.ErrOrStderr(), "back-up", err)
		return err
	}

	log.Info().
		Str("layout", string(result.Layout)).
		Int("tables", result.Tables).
		Int("targets", result.Targets).
		Str("size", humanize.IBytes(uint64(result.SizeBytes))).
		Dur("duration", result.Duration).
		Msg("backup completed successfully")

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully backed up the database called: %s to %s\n",
		job.Connection.Database, output)
	return nil
}
