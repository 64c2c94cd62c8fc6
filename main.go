package main

import (
	"fmt"
	"os"

	"pairbot/internal/cli"
	"pairbot/internal/config"
	"pairbot/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairbot: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})

	rootCmd := cli.NewRootCmd(cfg, logger, "")
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
