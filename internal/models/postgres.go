package models

import (
	"fmt"
	"strings"
	"time"
)

// ArchiveLayout describes how an archive on disk is organised.
type ArchiveLayout string

// Archive layouts.
const (
	LayoutFile      ArchiveLayout = "file"      // single custom-format dump
	LayoutDirectory ArchiveLayout = "directory" // plain pg_dump -Fd output
	LayoutSplit     ArchiveLayout = "split"     // manifest plus one sub-dump per target
)

// CommandResult holds the outcome of a single external command.
type CommandResult struct {
	Command  []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// SubprocessFailure is returned when an external command exits non-zero or
// cannot be started (ExitCode -1).
type SubprocessFailure struct {
	Command  []string
	ExitCode int
	Err      error
}

func (e *SubprocessFailure) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.CommandLine(), e.ExitCode)
}

func (e *SubprocessFailure) Unwrap() error {
	return e.Err
}

// CommandLine returns the command tokens joined by spaces.
func (e *SubprocessFailure) CommandLine() string {
	return strings.Join(e.Command, " ")
}

// RestoreRequest holds the input of a restore run.
type RestoreRequest struct {
	ArchivePath string
	ExtraArgs   []string // appended verbatim after the generated pg_restore flags
}

// RestoreResult summarises a finished restore run.
type RestoreResult struct {
	Database    string
	ArchivePath string
	Layout      ArchiveLayout
	Batches     int
	Targets     int
	Invocations int
	Duration    time.Duration
}

// BackupRequest holds the input of a backup run.
type BackupRequest struct {
	OutputPath string
	BatchSize  int      // 0 dumps everything at once, >0 writes a split archive
	ExtraArgs  []string // appended verbatim after the generated pg_dump flags
}

// BackupResult summarises a finished backup run.
type BackupResult struct {
	Database   string
	OutputPath string
	Layout     ArchiveLayout
	Tables     int
	Targets    int
	SizeBytes  int64
	Duration   time.Duration
}
