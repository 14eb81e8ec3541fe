// Package wol wakes the database host and waits until PostgreSQL answers.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// pingTimeout bounds a single readiness check.
const pingTimeout = 5 * time.Second

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig, conn models.ConnectionConfig, sslMode string) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Pinger checks whether the database accepts connections.
type Pinger interface {
	Ping(ctx context.Context, cfg models.ConnectionConfig, sslMode string) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	pinger    Pinger
	logger    zerolog.Logger
}

// New creates a new WOL service probing readiness with pinger.
func New(logger zerolog.Logger, pinger Pinger) *Impl {
	return NewWithClient(logger, &DefaultClient{}, pinger)
}

// NewWithClient creates a new WOL service with a custom packet client (for testing).
func NewWithClient(logger zerolog.Logger, wolClient Client, pinger Pinger) *Impl {
	return &Impl{
		wolClient: wolClient,
		pinger:    pinger,
		logger:    logger,
	}
}

// Wake sends a WOL packet and waits until the database accepts connections.
// Failures are reported in the result; the returned error is always nil.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig, conn models.ConnectionConfig, sslMode string) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.PacketSent = true

	s.logger.Info().
		Str("host", conn.Host).
		Int("port", conn.Port).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for database to accept connections")

	if err := s.waitForDatabase(ctx, cfg, conn, sslMode); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Str("wait", cfg.StabilizeWait.Round(time.Millisecond).String()).Msg("waiting for database to stabilize")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.DatabaseReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Dur("duration", result.WaitDuration).
		Msg("database is ready")

	return result, nil
}

func (s *Impl) waitForDatabase(ctx context.Context, cfg models.WOLConfig, conn models.ConnectionConfig, sslMode string) error {
	deadline := time.Now().Add(cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.pinger.Ping(pingCtx, conn, sslMode)
		cancel()
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for database at %s:%d: %w", conn.Host, conn.Port, err)
		}

		s.logger.Debug().Err(err).Msg("database not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
