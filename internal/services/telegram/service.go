// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/pgbatch/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification sends a run notification via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("operation", string(msg.Operation)).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	// Format message
	text := s.formatMessage(msg)

	// Build request
	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(msg models.TelegramMessage) string {
	var b strings.Builder

	title := operationTitle(msg.Operation)
	if msg.Success {
		fmt.Fprintf(&b, "✅ <b>%s Successful</b>\n\n", title)
	} else {
		fmt.Fprintf(&b, "❌ <b>%s Failed</b>\n\n", title)
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", html.EscapeString(msg.Host))
	fmt.Fprintf(&b, "🗄 <b>Database:</b> %s\n", html.EscapeString(msg.Database))
	if msg.Archive != "" {
		fmt.Fprintf(&b, "📁 <b>Archive:</b> %s\n", html.EscapeString(msg.Archive))
	}
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second))

	if !msg.Success {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		if msg.FailedStep != "" {
			fmt.Fprintf(&b, "  • Failed step: %s\n", html.EscapeString(msg.FailedStep))
		}
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", html.EscapeString(msg.ErrorMessage))
		if msg.FailedCommand != "" {
			fmt.Fprintf(&b, "  • Command: <code>%s</code>\n", html.EscapeString(msg.FailedCommand))
			fmt.Fprintf(&b, "  • Exit code: %d\n", msg.ExitCode)
		}
		return b.String()
	}

	b.WriteString("\n<b>📊 Statistics:</b>\n")
	if msg.Layout != "" {
		fmt.Fprintf(&b, "  • Layout: %s\n", msg.Layout)
	}
	switch msg.Operation {
	case models.OperationRestore:
		fmt.Fprintf(&b, "  • Batches: %d\n", msg.Batches)
		fmt.Fprintf(&b, "  • Targets: %d\n", msg.Targets)
	case models.OperationBackup:
		fmt.Fprintf(&b, "  • Tables: %d\n", msg.Tables)
		fmt.Fprintf(&b, "  • Targets: %d\n", msg.Targets)
		fmt.Fprintf(&b, "  • Size: %s\n", humanize.IBytes(uint64(max(msg.Size, 0))))
	}

	return b.String()
}

func operationTitle(op models.Operation) string {
	switch op {
	case models.OperationBackup:
		return "Backup"
	case models.OperationRestore:
		return "Restore"
	default:
		return "Run"
	}
}
