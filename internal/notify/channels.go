package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"pairbot/internal/config"
)

// TerminalChannel prints alerts to stderr.
type TerminalChannel struct{}

// NewTerminalChannel creates a terminal channel.
func NewTerminalChannel() *TerminalChannel {
	return &TerminalChannel{}
}

// Name returns the channel name.
func (t *TerminalChannel) Name() string { return "terminal" }

// Send prints the alert.
func (t *TerminalChannel) Send(ctx context.Context, a Alert) error {
	color := "\033[32m"
	switch a.Severity {
	case SeverityWarning:
		color = "\033[33m"
	case SeverityCritical:
		color = "\033[31m"
	}
	fmt.Fprintf(os.Stderr, "%s[%s]\033[0m %s: %s%s\n",
		color, a.Severity, a.Title, a.Message, formatFields(a.Fields))
	return nil
}

// WebhookChannel POSTs alerts as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		url:    cfg.URL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (w *WebhookChannel) Name() string { return "webhook" }

// Send posts the alert payload.
func (w *WebhookChannel) Send(ctx context.Context, a Alert) error {
	payload := map[string]interface{}{
		"severity":  string(a.Severity),
		"title":     a.Title,
		"message":   a.Message,
		"fields":    a.Fields,
		"timestamp": a.Timestamp.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramChannel sends alerts via the Telegram bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel creates a Telegram channel.
func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	return &TelegramChannel{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send delivers the alert as a Telegram message.
func (t *TelegramChannel) Send(ctx context.Context, a Alert) error {
	emoji := "ℹ️"
	switch a.Severity {
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n%s%s", emoji, a.Title, a.Message, formatFields(a.Fields))

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
