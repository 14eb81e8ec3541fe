package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run notification.
type TelegramMessage struct {
	Operation Operation
	Success   bool
	Host      string
	Database  string
	Archive   string
	StartTime time.Time
	Duration  time.Duration

	// Run stats (if successful).
	Layout  ArchiveLayout
	Batches int
	Targets int
	Tables  int
	Size    int64

	// Error info (if failed).
	FailedStep    string // wol, restore, backup or ssh_shutdown
	ErrorMessage  string
	FailedCommand string
	ExitCode      int
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
