package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hollis/braid/internal/config"
	"github.com/hollis/braid/internal/logger"
	"github.com/hollis/braid/internal/tracing"
	"github.com/hollis/braid/pkg/agent"
	"github.com/hollis/braid/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runSessionKey     string
	runProvider       string
	runModel          string
	runSystemPrompt   string
	runHistoryLimit   int
	runTimeoutSeconds int
	runJSON           bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run one conversational turn",
	Long: `Run one conversational turn against a session and print the reply.
The user prompt is appended to the session transcript before the model is
called, so it survives timeouts and model failures.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runSessionKey, "session", "s", "", "session key, e.g. telegram:dm:42 (required)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider override")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override")
	runCmd.Flags().StringVar(&runSystemPrompt, "system-prompt", "", "replace the agent system prompt for this turn")
	runCmd.Flags().IntVar(&runHistoryLimit, "history-limit", 0, "cap replayed history to the last N user turns")
	runCmd.Flags().IntVar(&runTimeoutSeconds, "timeout", 0, "turn timeout in seconds (default from config)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full turn result as JSON")
	_ = runCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(runCmd)
}

// turnOverrides carries the optional per-turn flag values. SystemPrompt and
// HistoryLimit are pointers so an explicitly-passed zero value stays
// distinct from "not set".
type turnOverrides struct {
	Provider       string
	Model          string
	SystemPrompt   *string
	HistoryLimit   *int
	TimeoutSeconds int
}

// buildTurnRequest assembles a turn request from config and flags. The
// transcript path comes from the session manager so key validation and
// sanitization happen in one place.
func buildTurnRequest(cfg *config.Config, sessions *session.Manager, sessionKey, prompt string, ov turnOverrides) (agent.TurnRequest, error) {
	transcriptPath, err := sessions.TranscriptPath(sessionKey)
	if err != nil {
		return agent.TurnRequest{}, err
	}

	req := agent.TurnRequest{
		SessionKey:     sessionKey,
		TranscriptPath: transcriptPath,
		WorkspaceDir:   cfg.WorkspacePath,
		AgentDir:       filepath.Join(cfg.DataDir, "agent"),
		Config:         cfg,
		Prompt:         prompt,
		Provider:       ov.Provider,
		Model:          ov.Model,
		Timeout:        time.Duration(cfg.Runner.TurnTimeoutSeconds) * time.Second,
		SystemPrompt:   ov.SystemPrompt,
		HistoryLimit:   ov.HistoryLimit,
	}
	if ov.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(ov.TimeoutSeconds) * time.Second
	}
	return req, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg, err := newCommandLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()

	sessions, err := session.NewManager(cfg.Session.Dir)
	if err != nil {
		return fmt.Errorf("failed to open transcript directory: %w", err)
	}

	ov := turnOverrides{
		Provider:       runProvider,
		Model:          runModel,
		TimeoutSeconds: runTimeoutSeconds,
	}
	if cmd.Flags().Changed("system-prompt") {
		ov.SystemPrompt = &runSystemPrompt
	}
	if cmd.Flags().Changed("history-limit") {
		ov.HistoryLimit = &runHistoryLimit
	}

	req, err := buildTurnRequest(cfg, sessions, runSessionKey, strings.Join(args, " "), ov)
	if err != nil {
		return err
	}

	runner := agent.NewRunner(lg.GetZerolog())
	ctx := tracing.NewRequestContext(cmd.Context())

	result, err := runner.RunTurn(ctx, req)
	if err != nil {
		return err
	}

	refreshSessionIndex(ctx, cfg, sessions, result)

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, p := range result.Payloads {
		if p.IsError {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", p.Text)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), p.Text)
		}
	}

	if result.Failed() {
		cmd.SilenceUsage = true
		return fmt.Errorf("turn completed with errors")
	}
	return nil
}

// refreshSessionIndex updates the sqlite index row after a turn. Failures
// are logged, not surfaced; the transcript already holds the truth.
func refreshSessionIndex(ctx context.Context, cfg *config.Config, sessions *session.Manager, result *agent.TurnResult) {
	index, err := session.OpenIndex(cfg.Session.IndexPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open session index")
		return
	}
	defer index.Close()

	store, err := sessions.StoreFor(ctx, result.SessionKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open store for index refresh")
		return
	}
	if err := index.UpsertFromStore(ctx, result.SessionKey, result.AgentID, store); err != nil {
		log.Warn().Err(err).Str("session_key", result.SessionKey).Msg("Failed to refresh session index")
	}
}

// newCommandLogger builds a file-only logger so one-shot command output
// stays clean.
func newCommandLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}
