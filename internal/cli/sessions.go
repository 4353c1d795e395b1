package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hollis/braid/pkg/session"
	"github.com/spf13/cobra"
)

var (
	sessionsShowLimit int
	sessionsShowJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	Long:  `List every session in the index with its entry and user-turn counts.`,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-key>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsShowCmd.Flags().IntVar(&sessionsShowLimit, "limit", 0, "only the last N entries (0 = all)")
	sessionsShowCmd.Flags().BoolVar(&sessionsShowJSON, "json", false, "print raw transcript entries as JSON lines")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	index, err := session.OpenIndex(cfg.Session.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to open session index: %w", err)
	}
	defer index.Close()

	records, err := index.List(cmd.Context())
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION KEY\tAGENT\tENTRIES\tUSER TURNS\tLAST ACTIVITY")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			rec.SessionKey,
			rec.AgentID,
			rec.EntryCount,
			rec.UserTurns,
			rec.LastActivity.Local().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sessionKey := args[0]

	sessions, err := session.NewManager(cfg.Session.Dir)
	if err != nil {
		return fmt.Errorf("failed to open transcript directory: %w", err)
	}

	// Stat first: opening a store creates the transcript file, and a read
	// command must not leave empty transcripts behind.
	if _, err := sessions.Stat(sessionKey); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no transcript for session %q", sessionKey)
		}
		return err
	}

	store, err := sessions.StoreFor(cmd.Context(), sessionKey)
	if err != nil {
		return err
	}

	entries := store.Entries()
	if sessionsShowLimit > 0 && len(entries) > sessionsShowLimit {
		entries = entries[len(entries)-sessionsShowLimit:]
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Transcript is empty")
		return nil
	}

	if sessionsShowJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, entry := range entries {
			if err := enc.Encode(entry); err != nil {
				return err
			}
		}
		return nil
	}

	for _, entry := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), formatEntry(entry))
	}
	return nil
}

// formatEntry renders one transcript entry as a human-readable line.
func formatEntry(entry session.Entry) string {
	ts := entry.Timestamp.Local().Format("2006-01-02 15:04:05")
	if entry.Type == session.EntryTypeCustom {
		return fmt.Sprintf("%s  [%s]", ts, entry.CustomType)
	}
	if entry.Message == nil {
		return fmt.Sprintf("%s  (empty %s entry)", ts, entry.Type)
	}
	return fmt.Sprintf("%s  %s: %s", ts, entry.Message.Role, entry.Message.Content)
}
