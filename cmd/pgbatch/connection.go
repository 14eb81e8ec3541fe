package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/pgbatch/internal/config"
	"github.com/fgeck/pgbatch/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// connectionFlags holds the pg_dump style connection flags shared by the
// restore and backup commands.
type connectionFlags struct {
	host     string
	database string
	username string
	port     int
	jobs     int
}

func (f *connectionFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.host, "host", "h", "", "database server host or socket directory (default from config, PGHOST or localhost)")
	flags.StringVarP(&f.database, "database", "d", "", "database to connect to (default from config or PGDATABASE)")
	flags.StringVarP(&f.username, "username", "U", "", "database user name (default from config, PGUSER or postgres)")
	flags.IntVarP(&f.port, "port", "p", 0, "database server port (default from config, PGPORT or 5432)")
	flags.IntVarP(&f.jobs, "jobs", "j", models.DefaultJobs, "number of parallel pg_dump or pg_restore jobs")
}

// resolve merges flags over the config file and libpq environment, then
// falls back to the built-in defaults.
func (f *connectionFlags) resolve(flags *pflag.FlagSet, settings models.PostgresSettings) (models.ConnectionConfig, error) {
	return models.NewConnectionConfig(
		pick(flags.Changed("host"), f.host, settings.Host, models.DefaultHost),
		pick(flags.Changed("database"), f.database, settings.Database, ""),
		pick(flags.Changed("username"), f.username, settings.Username, models.DefaultUsername),
		pick(flags.Changed("port"), f.port, settings.Port, models.DefaultPort),
		pick(flags.Changed("jobs"), f.jobs, settings.Jobs, models.DefaultJobs),
	)
}

func pick[T comparable](set bool, flagValue, configValue, fallback T) T {
	var zero T
	switch {
	case set:
		return flagValue
	case configValue != zero:
		return configValue
	default:
		return fallback
	}
}

// loadConfig reads the optional config file. Without -c only the libpq
// environment contributes.
func loadConfig() (*models.AppConfig, error) {
	cfg, err := config.NewParser().Load(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, no further batches will start")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// reportFailure prints the failing sub-command and its return code.
func reportFailure(w io.Writer, operation string, err error) {
	var subErr *models.SubprocessFailure
	if !errors.As(err, &subErr) {
		return
	}

	fmt.Fprintf(w, "The %s failed because of the failure of the following sub-command, "+
		"please read the output of the failed command above to see what went wrong.\n", operation)
	fmt.Fprintf(w, "The sub-command which failed was:\n%s\n", subErr.CommandLine())
	fmt.Fprintf(w, "It failed with a return code of: %d\n", subErr.ExitCode)
}

func jobFor(cmd *cobra.Command, conn *connectionFlags) (models.Job, *models.AppConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return models.Job{}, nil, err
	}

	connection, err := conn.resolve(cmd.Flags(), cfg.Postgres)
	if err != nil {
		log.Error().Err(err).Msg("invalid connection parameters")
		return models.Job{}, nil, err
	}

	return models.Job{
		Connection:  connection,
		WOL:         cfg.WOL,
		Telegram:    cfg.Telegram,
		SSHShutdown: cfg.SSHShutdown,
	}, cfg, nil
}
