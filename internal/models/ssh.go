package models

// SSHShutdownConfig describes how to power off the database host once a run
// has finished.
type SSHShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when empty
	KeyPath       string
	ShutdownDelay int    // minutes on linux; windows waits ShutdownDelay*60 seconds
	OS            string // "linux" (default) or "windows"
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
