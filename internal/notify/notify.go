// Package notify provides alerting for the position lifecycle. Alerts are
// fire-and-forget from the caller's perspective: channel errors are logged,
// never surfaced into monitor or recovery decisions.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairbot/internal/config"
)

// Severity represents alert severity.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one notification to the operator.
type Alert struct {
	Severity  Severity
	Title     string
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// Notifier delivers alerts to the operator.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// Channel is one delivery mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// MultiNotifier fans alerts out to all configured channels.
type MultiNotifier struct {
	channels []Channel
	level    string // "all" or "warnings_only"
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewMultiNotifier creates a notifier with the channels the config enables.
// The terminal channel is always on so alerts are never silently lost.
func NewMultiNotifier(cfg *config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		level:  cfg.Level,
		logger: logger.With().Str("component", "notify").Logger(),
	}
	if mn.level == "" {
		mn.level = "all"
	}

	mn.channels = append(mn.channels, NewTerminalChannel())
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramChannel(cfg.Telegram))
	}
	return mn
}

// AddChannel adds a delivery channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

func (mn *MultiNotifier) shouldSend(sev Severity) bool {
	if mn.level == "warnings_only" {
		return sev != SeverityInfo
	}
	return true
}

// Notify sends the alert to every channel. Failures are logged per channel.
func (mn *MultiNotifier) Notify(ctx context.Context, a Alert) {
	if !mn.shouldSend(a.Severity) {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.Send(ctx, a); err != nil {
			mn.logger.Warn().
				Str("channel", ch.Name()).
				Str("title", a.Title).
				Err(err).
				Msg("Failed to deliver alert")
		}
	}
}

// formatFields renders alert fields as "key=value" lines, sorted order not
// required: operators read these in Telegram or a terminal.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var sb strings.Builder
	for k, v := range fields {
		sb.WriteString(fmt.Sprintf("\n%s: %v", k, v))
	}
	return sb.String()
}
