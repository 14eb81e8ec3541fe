package main

import (
	"os"
	"strings"

	"github.com/fgeck/pgbatch/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
	showHelp   bool
)

// newRunner builds the job runner. Replaced in tests.
var newRunner = func(logger zerolog.Logger, sslMode string) runner.Service {
	return runner.New(logger, sslMode)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgbatch",
		Short: "Batched, parallel pg_dump and pg_restore orchestrator",
		Long: `pgbatch drives pg_dump and pg_restore over many tables:
  - backups split into per-batch sub-dumps described by a manifest
  - restores of those batches with several pg_restore processes at once
  - Wake-on-LAN of the database host before a run
  - Telegram notifications after a run

Connection flags mirror pg_dump, so -h is the host. Use --help for help.
Passwords come from PGPASSWORD or the libpq password file.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		Version: Version,
	}

	// Defining "help" here stops cobra from claiming -h for it.
	rootCmd.PersistentFlags().BoolVar(&showHelp, "help", false, "show help for a command")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newValidateCmd())

	return rootCmd
}

func setupLogging() {
	// Logs go to stderr. stdout carries pg_dump/pg_restore output and the outcome message.
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
