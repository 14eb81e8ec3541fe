package models

import "fmt"

// Connection defaults used when neither a flag, the config file nor the
// libpq environment provides a value.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 5432
	DefaultUsername = "postgres"
	DefaultJobs     = 1
)

// ConnectionConfig holds the connection parameters shared by every pg_dump
// and pg_restore invocation of a run. Build it with NewConnectionConfig and
// pass it by value.
type ConnectionConfig struct {
	Host     string
	Database string
	Username string
	Port     int
	Jobs     int
}

// InvalidConfigError reports a malformed connection parameter.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewConnectionConfig validates the parameters and returns the config.
func NewConnectionConfig(host, database, username string, port, jobs int) (ConnectionConfig, error) {
	if database == "" {
		return ConnectionConfig{}, &InvalidConfigError{Field: "database", Reason: "must not be empty"}
	}
	if port < 1 || port > 65535 {
		return ConnectionConfig{}, &InvalidConfigError{
			Field:  "port",
			Reason: fmt.Sprintf("%d is outside the range 1-65535", port),
		}
	}
	if jobs < 1 {
		return ConnectionConfig{}, &InvalidConfigError{
			Field:  "jobs",
			Reason: fmt.Sprintf("%d must be at least 1", jobs),
		}
	}

	return ConnectionConfig{
		Host:     host,
		Database: database,
		Username: username,
		Port:     port,
		Jobs:     jobs,
	}, nil
}

// ToolArgs returns the connection flags understood by both pg_dump and
// pg_restore. -w disables password prompts.
func (c ConnectionConfig) ToolArgs() []string {
	args := []string{"-w"}
	if c.Host != "" {
		args = append(args, "-h", c.Host)
	}
	args = append(args, "-d", c.Database)
	if c.Username != "" {
		args = append(args, "-U", c.Username)
	}
	return append(args, "-p", fmt.Sprintf("%d", c.Port))
}

// DSN returns a lib/pq connection string without a password. Credentials
// come from PGPASSWORD or the password file.
func (c ConnectionConfig) DSN(sslMode string) string {
	dsn := fmt.Sprintf("dbname='%s' port=%d sslmode=%s", quoteDSN(c.Database), c.Port, driverSSLMode(sslMode))
	if c.Host != "" {
		dsn += fmt.Sprintf(" host='%s'", quoteDSN(c.Host))
	}
	if c.Username != "" {
		dsn += fmt.Sprintf(" user='%s'", quoteDSN(c.Username))
	}
	return dsn
}

// driverSSLMode maps a libpq sslmode onto the modes lib/pq accepts. lib/pq
// cannot fall back between plain and TLS connections, so allow and prefer
// connect without TLS.
func driverSSLMode(sslMode string) string {
	switch sslMode {
	case "", "allow", "prefer":
		return "disable"
	default:
		return sslMode
	}
}

func quoteDSN(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
