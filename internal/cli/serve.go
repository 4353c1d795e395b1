package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hollis/braid/internal/config"
	"github.com/hollis/braid/internal/logger"
	"github.com/hollis/braid/internal/observability"
	"github.com/hollis/braid/internal/tracing"
	"github.com/hollis/braid/pkg/agent"
	"github.com/hollis/braid/pkg/commandqueue"
	"github.com/hollis/braid/pkg/gateway"
	"github.com/hollis/braid/pkg/session"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the braid gateway",
	Long: `Run the braid gateway in the foreground.
Callers connect over websocket JSON-RPC to run turns. The session index,
retention sweeper, and config hot-reload live for the life of the process;
SIGINT or SIGTERM shuts everything down in order.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// The watcher owns the config from here on; turns pick up edits to the
	// config file without a restart.
	watcher, err := config.NewWatcher(config.WatcherConfig{
		ConfigPath: cfgFile,
		OnReload: func(next *config.Config) {
			observability.RecordConfigAudit(context.Background(), "reload:config", "system", map[string]interface{}{
				"agents":    len(next.Agents),
				"providers": len(next.Providers),
			})
		},
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer watcher.Close()

	cfg := watcher.Current()

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()

	if cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is not set; run 'braid configure' first")
	}

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("braid"); err != nil {
		lg.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		defer func() {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		lg.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		lg.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	sessions, err := session.NewManager(cfg.Session.Dir)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	lg.Info().Str("dir", sessions.Dir()).Msg("Session manager initialized")

	index, err := session.OpenIndex(cfg.Session.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to open session index: %w", err)
	}
	defer index.Close()
	lg.Info().Str("path", cfg.Session.IndexPath).Msg("Session index opened")

	queue := commandqueue.New()
	defer queue.Close()

	runner := agent.NewRunner(lg.GetZerolog())

	retention, err := session.NewRetention(sessions, index, session.RetentionOptions{
		Schedule:     cfg.Session.RetentionSchedule,
		ArchiveAfter: time.Duration(cfg.Session.ArchiveAfterHours) * time.Hour,
		PurgeAfter:   time.Duration(cfg.Session.PurgeAfterDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create retention sweeper: %w", err)
	}

	port := cfg.Gateway.Port
	if servePort > 0 {
		port = servePort
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         port,
		SharedSecret: cfg.Gateway.SharedSecret,
		AgentDir:     filepath.Join(cfg.DataDir, "agent"),
		Queue:        queue,
		Runner:       runner,
		Sessions:     sessions,
		Index:        index,
		ConfigFn:     watcher.Current,
		Logger:       lg.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	lg.Info().Str("addr", server.Addr()).Msg("Gateway server started")

	if err := retention.Start(); err != nil {
		lg.Warn().Err(err).Msg("Failed to start retention sweeper")
	} else {
		lg.Info().Str("schedule", cfg.Session.RetentionSchedule).Msg("Retention sweeper started")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	lg.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	if err := retention.Stop(); err != nil {
		lg.Warn().Err(err).Msg("Failed to stop retention sweeper")
	}
	if err := server.Stop(); err != nil {
		lg.Warn().Err(err).Msg("Failed to stop gateway server")
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		lg.Warn().Err(err).Msg("Failed to close audit logger")
	}

	lg.Info().Msg("Shutdown complete")
	return nil
}
