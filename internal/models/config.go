// Package models contains the data structures used throughout pgbatch.
package models

// AppConfig holds everything loaded from the optional config file.
type AppConfig struct {
	Postgres PostgresSettings
	WOL      *WOLConfig      // nil if not configured
	Telegram *TelegramConfig // nil if not configured

	SSHShutdown *SSHShutdownConfig // nil if not configured
}

// PostgresSettings holds connection defaults. Zero values mean "not set" and
// are filled from flags or the libpq environment by the CLI.
type PostgresSettings struct {
	Host     string
	Port     int
	Database string
	Username string
	Jobs     int
	SSLMode  string // used for catalog queries and readiness checks only
}

// Operation names a job run by the runner.
type Operation string

// Supported operations.
const (
	OperationBackup  Operation = "backup"
	OperationRestore Operation = "restore"
)

// Job describes one CLI invocation handed to the runner.
type Job struct {
	Connection ConnectionConfig
	WOL        *WOLConfig
	Telegram   *TelegramConfig
	Restore    *RestoreRequest // set for restore jobs
	Backup     *BackupRequest  // set for backup jobs

	// SSHShutdown powers the database host off after a successful run.
	SSHShutdown *SSHShutdownConfig
}
