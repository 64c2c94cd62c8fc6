// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "pairbot", "logs", "pairbot.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithTicket adds a broker ticket to the logger context.
func WithTicket(logger zerolog.Logger, ticket int64) zerolog.Logger {
	return logger.With().Int64("ticket", ticket).Logger()
}

// WithSpread adds a spread identifier to the logger context.
func WithSpread(logger zerolog.Logger, spreadID string) zerolog.Logger {
	return logger.With().Str("spread_id", spreadID).Logger()
}

// LogClose logs a close attempt outcome.
func LogClose(logger zerolog.Logger, ticket int64, symbol string, attempts int, err error) {
	if err != nil {
		logger.Error().
			Str("event", "close").
			Int64("ticket", ticket).
			Str("symbol", symbol).
			Int("attempts", attempts).
			Err(err).
			Msg("Close failed")
		return
	}
	logger.Info().
		Str("event", "close").
		Int64("ticket", ticket).
		Str("symbol", symbol).
		Int("attempts", attempts).
		Msg("Position closed")
}

// LogRecovery logs a recovery outcome.
func LogRecovery(logger zerolog.Logger, spreadID, outcome, state string) {
	logger.Info().
		Str("event", "recovery").
		Str("spread_id", spreadID).
		Str("outcome", outcome).
		Str("state", state).
		Msg("Recovery completed")
}

// LogFlagTransition logs a flag store state change.
func LogFlagTransition(logger zerolog.Logger, action, spreadID, reason string) {
	logger.Info().
		Str("event", "flag").
		Str("action", action).
		Str("spread_id", spreadID).
		Str("reason", reason).
		Msg("Flag transition")
}
