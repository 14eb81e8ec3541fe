// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/spf13/viper"
)

// libpq environment variables used as the lowest-priority connection defaults.
var pgEnv = map[string]string{
	"postgres.host":     "PGHOST",
	"postgres.port":     "PGPORT",
	"postgres.database": "PGDATABASE",
	"postgres.username": "PGUSER",
	"postgres.sslmode":  "PGSSLMODE",
}

// Every sslmode libpq understands.
var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

var validOS = map[string]bool{"linux": true, "windows": true}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, env := range pgEnv {
		if val, ok := os.LookupEnv(env); ok && val != "" {
			v.SetDefault(key, val)
		}
	}

	return &Parser{v: v}
}

// Load loads configuration from path, or only defaults when path is empty.
func (p *Parser) Load(path string) (*models.AppConfig, error) {
	if path == "" {
		return p.parse()
	}
	return p.LoadFile(path)
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	// Connection defaults. Missing values are filled in by the CLI.
	cfg.Postgres = models.PostgresSettings{
		Host:     p.expandEnv(p.v.GetString("postgres.host")),
		Port:     p.v.GetInt("postgres.port"),
		Database: p.expandEnv(p.v.GetString("postgres.database")),
		Username: p.expandEnv(p.v.GetString("postgres.username")),
		Jobs:     p.v.GetInt("postgres.jobs"),
		SSLMode:  p.v.GetString("postgres.sslmode"),
	}

	if cfg.Postgres.Port < 0 || cfg.Postgres.Port > 65535 {
		return nil, fmt.Errorf("postgres.port must be between 1 and 65535")
	}
	if cfg.Postgres.Jobs < 0 {
		return nil, fmt.Errorf("postgres.jobs must be at least 1")
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if !validSSLModes[cfg.Postgres.SSLMode] {
		return nil, fmt.Errorf("postgres.sslmode must be one of: disable, allow, prefer, require, verify-ca, verify-full")
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.v.GetString("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            p.v.GetString("ssh_shutdown.os"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}

		// Set defaults.
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if !p.v.IsSet("ssh_shutdown.shutdown_delay") {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
		if cfg.SSHShutdown.ShutdownDelay < 0 {
			return nil, fmt.Errorf("ssh_shutdown.shutdown_delay must not be negative")
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
		if !validOS[cfg.SSHShutdown.OS] {
			return nil, fmt.Errorf("ssh_shutdown.os must be one of: linux, windows")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.WOL != nil && cfg.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required when wol is configured")
	}

	if cfg.Postgres.Jobs < 0 {
		return fmt.Errorf("postgres.jobs must be at least 1")
	}

	return nil
}
