package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations
type mockSSHSession struct {
	combinedOutputFunc func(cmd string) ([]byte, error)
}

func (m *mockSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	if m.combinedOutputFunc != nil {
		return m.combinedOutputFunc(cmd)
	}
	return []byte(""), nil
}

func (m *mockSSHSession) Close() error {
	return nil
}

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
	closed         bool
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error {
	m.closed = true
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

// factoryRunning returns a factory whose sessions answer every command with output and err.
func factoryRunning(captured *string, output string, err error) *mockClientFactory {
	return &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							if captured != nil {
								*captured = cmd
							}
							return []byte(output), err
						},
					}, nil
				},
			}, nil
		},
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func testConfig(t *testing.T) models.SSHShutdownConfig {
	return models.SSHShutdownConfig{
		Host:          "192.168.1.100",
		Port:          22,
		Username:      "root",
		PrivateKey:    generateTestKey(t),
		ShutdownDelay: 1,
	}
}

func TestShutdown_Success(t *testing.T) {
	var capturedCommand, capturedAddr, capturedUser string

	factory := factoryRunning(&capturedCommand, "Shutdown scheduled", nil)
	inner := factory.newClientFunc
	factory.newClientFunc = func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
		capturedAddr = addr
		capturedUser = config.User
		return inner(network, addr, config)
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "Shutdown scheduled")
	assert.Nil(t, result.Error)
	assert.Equal(t, "sudo shutdown -h +1", capturedCommand)
	assert.Equal(t, "192.168.1.100:22", capturedAddr)
	assert.Equal(t, "root", capturedUser)
}

func TestShutdown_ImmediateShutdown(t *testing.T) {
	var capturedCommand string
	svc := NewWithClientFactory(testLogger(), factoryRunning(&capturedCommand, "", nil))

	cfg := testConfig(t)
	cfg.ShutdownDelay = 0

	result, err := svc.Shutdown(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Equal(t, "sudo shutdown -h now", capturedCommand)
}

func TestShutdown_Windows(t *testing.T) {
	var capturedCommand string
	svc := NewWithClientFactory(testLogger(), factoryRunning(&capturedCommand, "", nil))

	cfg := testConfig(t)
	cfg.OS = "windows"
	cfg.ShutdownDelay = 2

	_, err := svc.Shutdown(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, "shutdown /s /t 120", capturedCommand)
}

func TestShutdown_DroppedConnectionIsNotAnError(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), factoryRunning(nil, "", errors.New("wait: remote command exited without exit status")))

	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Nil(t, result.Error)
}

func TestShutdown_ConnectionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to connect")
}

func TestShutdown_SessionFailed(t *testing.T) {
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return nil, errors.New("session creation failed")
		},
	}
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return client, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to create session")
	assert.True(t, client.closed)
}

func TestShutdown_NoPrivateKey(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	cfg := models.SSHShutdownConfig{
		Host:     "192.168.1.100",
		Port:     22,
		Username: "root",
	}

	result, err := svc.Shutdown(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "no private key")
}

func TestShutdown_InvalidPrivateKey(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	cfg := testConfig(t)
	cfg.PrivateKey = []byte("invalid key")

	result, err := svc.Shutdown(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to parse private key")
}

func TestShutdown_ContextCancelled(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			// Simulate slow connection
			time.Sleep(100 * time.Millisecond)
			return &mockSSHClient{}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := svc.Shutdown(ctx, testConfig(t))

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.Equal(t, context.DeadlineExceeded, result.Error)
}

func TestTestConnection_Success(t *testing.T) {
	var capturedCommand string
	svc := NewWithClientFactory(testLogger(), factoryRunning(&capturedCommand, "OK\n", nil))

	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
	assert.Nil(t, result.Error)
	assert.Equal(t, "echo OK", capturedCommand)
}

func TestTestConnection_CommandFailed(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), factoryRunning(nil, "", errors.New("exit status 1")))

	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "test command failed")
}

func TestTestConnection_Failed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to connect")
}

func TestBuildConfig_WithKeyPath(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "test_key")
	require.NoError(t, os.WriteFile(keyPath, generateTestKey(t), 0o600))

	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})

	sshConfig, err := svc.buildConfig(models.SSHShutdownConfig{
		Host:     "192.168.1.100",
		Port:     22,
		Username: "root",
		KeyPath:  keyPath,
	})

	require.NoError(t, err)
	assert.Equal(t, "root", sshConfig.User)
	assert.Equal(t, dialTimeout, sshConfig.Timeout)
}

func TestBuildConfig_KeyPathNotFound(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})

	_, err := svc.buildConfig(models.SSHShutdownConfig{
		Host:     "192.168.1.100",
		Port:     22,
		Username: "root",
		KeyPath:  "/nonexistent/path/id_rsa",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read private key")
}
