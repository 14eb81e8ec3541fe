package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/pgbatch/internal/config"
	"github.com/fgeck/pgbatch/internal/services/ssh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newSSHService builds the SSH client used by validate --test-ssh. Replaced in tests.
var newSSHService = func(logger zerolog.Logger) ssh.Service {
	return ssh.New(logger)
}

var testSSH bool

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file without running pg_dump or pg_restore.

With --test-ssh, also log in to the ssh_shutdown host and run a harmless
command to check the key, without shutting the host down.`,
		RunE: validateConfig,
	}

	cmd.Flags().BoolVar(&testSSH, "test-ssh", false, "check the ssh_shutdown login")

	return cmd
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	cfg, err := config.NewParser().LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	out := cmd.OutOrStdout()
	orUnset := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return s
	}

	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "PostgreSQL Defaults:")
	fmt.Fprintf(out, "  Host: %s\n", orUnset(cfg.Postgres.Host))
	fmt.Fprintf(out, "  Port: %d\n", cfg.Postgres.Port)
	fmt.Fprintf(out, "  Database: %s\n", orUnset(cfg.Postgres.Database))
	fmt.Fprintf(out, "  Username: %s\n", orUnset(cfg.Postgres.Username))
	fmt.Fprintf(out, "  Jobs: %d\n", cfg.Postgres.Jobs)
	fmt.Fprintf(out, "  SSL Mode: %s\n", cfg.Postgres.SSLMode)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Fprintf(out, "  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)

	if cfg.WOL != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "WOL Configuration:")
		fmt.Fprintf(out, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Fprintf(out, "  Timeout: %s\n", cfg.WOL.Timeout)
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}

	if cfg.SSHShutdown != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "SSH Shutdown Configuration:")
		fmt.Fprintf(out, "  Host: %s:%d\n", cfg.SSHShutdown.Host, cfg.SSHShutdown.Port)
		fmt.Fprintf(out, "  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Fprintf(out, "  Key Path: %s\n", cfg.SSHShutdown.KeyPath)
		fmt.Fprintf(out, "  Shutdown Delay: %d min\n", cfg.SSHShutdown.ShutdownDelay)
		fmt.Fprintf(out, "  OS: %s\n", cfg.SSHShutdown.OS)
	}

	if !testSSH {
		return nil
	}
	if cfg.SSHShutdown == nil {
		return fmt.Errorf("--test-ssh requires an ssh_shutdown section")
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := newSSHService(log.Logger).TestConnection(ctx, *cfg.SSHShutdown)
	if err != nil {
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Str("host", cfg.SSHShutdown.Host).Msg("SSH connection test failed")
		return fmt.Errorf("SSH connection test failed: %w", result.Error)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "SSH connection OK: %s\n", strings.TrimSpace(result.Output))

	return nil
}
