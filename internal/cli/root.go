package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pairbot/internal/broker"
	"pairbot/internal/config"
	"pairbot/internal/flagstore"
	"pairbot/internal/logging"
	"pairbot/internal/monitor"
	"pairbot/internal/notify"
	"pairbot/internal/recovery"
	"pairbot/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Connector broker.Connector
	Closer    *broker.Closer
	Flags     flagstore.Store
	History   store.HistoryStore
	Notifier  notify.Notifier
	Monitor   *monitor.Monitor
	DataDir   string
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger, dataDir string) *cobra.Command {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		DataDir: dataDir,
	}

	rootCmd := &cobra.Command{
		Use:   "pairbot",
		Short: "Pair position lifecycle daemon",
		Long: `pairbot owns the lifecycle of one paired position against an MT5
terminal bridge: it persists a setup flag across restarts, reconciles it
against live broker state on startup, and monitors the legs for manual
closes during operation.

Use 'pairbot run' to start the daemon, 'pairbot status' to inspect state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return app.wire()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.History != nil {
				app.History.Close()
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newRecoverCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newFlagCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// wire builds the dependency graph: history store, flag store, notifier,
// connector, closer, monitor.
func (a *App) wire() error {
	if a.DataDir == "" {
		a.DataDir = config.DefaultDataDir()
	}

	history, err := store.NewSQLiteStore(filepath.Join(a.DataDir, "pairbot.db"))
	if err != nil {
		// History is an audit convenience, not a correctness dependency.
		a.Logger.Warn().Err(err).Msg("History store unavailable, continuing without audit")
	} else {
		a.History = history
	}

	var auditor flagstore.Auditor
	if a.History != nil {
		auditor = a.History
	}
	flags, err := flagstore.NewFileStore(a.DataDir, a.Logger, auditor)
	if err != nil {
		return fmt.Errorf("initializing flag store: %w", err)
	}
	a.Flags = flags

	a.Notifier = notify.NewMultiNotifier(&a.Config.Notifications, a.Logger)

	switch a.Config.Broker.Mode {
	case "paper":
		a.Connector = broker.NewPaperConnector()
	default:
		a.Connector = broker.NewBridgeConnector(broker.BridgeConfig{
			BaseURL:          a.Config.Broker.BridgeURL,
			QueryTimeout:     a.Config.Broker.QueryTimeout,
			CloseTimeout:     a.Config.Broker.CloseTimeout,
			BreakerThreshold: a.Config.Broker.BreakerThreshold,
			BreakerCooldown:  a.Config.Broker.BreakerCooldown,
		})
	}

	a.Closer = broker.NewCloser(a.Connector, a.Logger)

	a.Monitor = monitor.New(monitor.Config{
		CheckInterval:       a.Config.Monitor.CheckInterval,
		MissedPollThreshold: a.Config.Monitor.MissedPollThreshold,
		Symbols:             a.Config.Pair.Symbols(),
		CloseMaxRetries:     a.Config.Recovery.CloseMaxRetries,
		CloseBackoff:        a.Config.Recovery.CloseBackoff,
	}, a.Connector, a.Closer, a.Flags, a.Notifier, a.Logger)

	return nil
}

// newCoordinator builds a recovery coordinator over the app's dependencies.
func (a *App) newCoordinator() *recovery.Coordinator {
	return recovery.New(recovery.Config{
		Symbols:         a.Config.Pair.Symbols(),
		NonePolicy:      recovery.NonePolicy(a.Config.Recovery.NonePolicy),
		CloseMaxRetries: a.Config.Recovery.CloseMaxRetries,
		CloseBackoff:    a.Config.Recovery.CloseBackoff,
	}, a.Connector, a.Closer, a.Flags, a.Monitor, a.Notifier, a.History, a.Logger)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pairbot %s\n", Version)
		},
	}
}
