// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"pairbot/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Pair          PairConfig         `mapstructure:"pair"`
	Broker        BrokerConfig       `mapstructure:"broker"`
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Recovery      RecoveryConfig     `mapstructure:"recovery"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// PairConfig describes the traded pair.
type PairConfig struct {
	PrimarySymbol   string  `mapstructure:"primary_symbol"`   // e.g. XAUUSD
	SecondarySymbol string  `mapstructure:"secondary_symbol"` // e.g. XAGUSD
	PrimaryLots     float64 `mapstructure:"primary_lots"`
	SecondaryLots   float64 `mapstructure:"secondary_lots"`
}

// Symbols returns both leg symbols.
func (p PairConfig) Symbols() []string {
	return []string{p.PrimarySymbol, p.SecondarySymbol}
}

// BrokerConfig holds broker bridge configuration.
type BrokerConfig struct {
	Mode             string        `mapstructure:"mode"` // "bridge", "paper"
	BridgeURL        string        `mapstructure:"bridge_url"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"` // consecutive failures before the circuit opens
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// MonitorConfig holds position monitor configuration.
type MonitorConfig struct {
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	MissedPollThreshold int           `mapstructure:"missed_poll_threshold"`
	UserResponseTimeout time.Duration `mapstructure:"user_response_timeout"`
}

// RecoveryConfig holds startup recovery configuration.
type RecoveryConfig struct {
	NonePolicy      string        `mapstructure:"none_policy"` // "connection-age", "session-confirmed"
	CloseMaxRetries int           `mapstructure:"close_max_retries"`
	CloseBackoff    time.Duration `mapstructure:"close_backoff"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, warnings_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/pairbot"
	}
	return filepath.Join(home, ".config", "pairbot")
}

// DefaultDataDir returns the default data directory (flag record, history db).
func DefaultDataDir() string {
	return filepath.Join(DefaultConfigDir(), "data")
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Pair: PairConfig{
			PrimarySymbol:   "XAUUSD",
			SecondarySymbol: "XAGUSD",
			PrimaryLots:     0.02,
			SecondaryLots:   1.0,
		},
		Broker: BrokerConfig{
			Mode:             "bridge",
			BridgeURL:        "http://127.0.0.1:8787",
			QueryTimeout:     10 * time.Second,
			CloseTimeout:     15 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Monitor: MonitorConfig{
			CheckInterval:       5 * time.Second,
			MissedPollThreshold: 2,
			UserResponseTimeout: 60 * time.Second,
		},
		Recovery: RecoveryConfig{
			NonePolicy:      "connection-age",
			CloseMaxRetries: 3,
			CloseBackoff:    2 * time.Second,
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Level:   "all",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			File:       true,
			FilePath:   filepath.Join(home, ".config", "pairbot", "logs", "pairbot.log"),
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		// No config file yet: write a template so the operator has
		// something to edit, then continue with defaults.
		if err := writeTemplate(configDir); err != nil {
			return nil, fmt.Errorf("writing template config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("pair.primary_symbol", cfg.Pair.PrimarySymbol)
	v.SetDefault("pair.secondary_symbol", cfg.Pair.SecondarySymbol)
	v.SetDefault("pair.primary_lots", cfg.Pair.PrimaryLots)
	v.SetDefault("pair.secondary_lots", cfg.Pair.SecondaryLots)
	v.SetDefault("broker.mode", cfg.Broker.Mode)
	v.SetDefault("broker.bridge_url", cfg.Broker.BridgeURL)
	v.SetDefault("broker.query_timeout", cfg.Broker.QueryTimeout)
	v.SetDefault("broker.close_timeout", cfg.Broker.CloseTimeout)
	v.SetDefault("broker.breaker_threshold", cfg.Broker.BreakerThreshold)
	v.SetDefault("broker.breaker_cooldown", cfg.Broker.BreakerCooldown)
	v.SetDefault("monitor.check_interval", cfg.Monitor.CheckInterval)
	v.SetDefault("monitor.missed_poll_threshold", cfg.Monitor.MissedPollThreshold)
	v.SetDefault("monitor.user_response_timeout", cfg.Monitor.UserResponseTimeout)
	v.SetDefault("recovery.none_policy", cfg.Recovery.NonePolicy)
	v.SetDefault("recovery.close_max_retries", cfg.Recovery.CloseMaxRetries)
	v.SetDefault("recovery.close_backoff", cfg.Recovery.CloseBackoff)
	v.SetDefault("notifications.enabled", cfg.Notifications.Enabled)
	v.SetDefault("notifications.level", cfg.Notifications.Level)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.file_path", cfg.Logging.FilePath)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAIRBOT_BRIDGE_URL"); v != "" {
		cfg.Broker.BridgeURL = v
	}
	if v := os.Getenv("PAIRBOT_BROKER_MODE"); v != "" {
		cfg.Broker.Mode = v
	}
	if v := os.Getenv("PAIRBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("PAIRBOT_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

// Validate checks the configuration for invalid values. All failures wrap
// errors.ErrConfigInvalid.
func (c *Config) Validate() error {
	if c.Pair.PrimarySymbol == "" || c.Pair.SecondarySymbol == "" {
		return fmt.Errorf("%w: pair: both primary_symbol and secondary_symbol are required", errors.ErrConfigInvalid)
	}
	if c.Pair.PrimarySymbol == c.Pair.SecondarySymbol {
		return fmt.Errorf("%w: pair: primary and secondary symbols must differ", errors.ErrConfigInvalid)
	}
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("%w: monitor: check_interval must be positive", errors.ErrConfigInvalid)
	}
	if c.Monitor.MissedPollThreshold < 1 {
		return fmt.Errorf("%w: monitor: missed_poll_threshold must be at least 1", errors.ErrConfigInvalid)
	}
	switch c.Recovery.NonePolicy {
	case "connection-age", "session-confirmed":
	default:
		return fmt.Errorf("%w: recovery: unknown none_policy %q", errors.ErrConfigInvalid, c.Recovery.NonePolicy)
	}
	if c.Recovery.CloseMaxRetries < 1 {
		return fmt.Errorf("%w: recovery: close_max_retries must be at least 1", errors.ErrConfigInvalid)
	}
	switch c.Broker.Mode {
	case "bridge", "paper":
	default:
		return fmt.Errorf("%w: broker: unknown mode %q", errors.ErrConfigInvalid, c.Broker.Mode)
	}
	if c.Broker.BreakerThreshold < 1 {
		return fmt.Errorf("%w: broker: breaker_threshold must be at least 1", errors.ErrConfigInvalid)
	}
	if c.Broker.BreakerCooldown <= 0 {
		return fmt.Errorf("%w: broker: breaker_cooldown must be positive", errors.ErrConfigInvalid)
	}
	return nil
}
