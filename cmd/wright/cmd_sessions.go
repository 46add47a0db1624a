// This file implements the sessions subcommands: list and delete.
package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"codewright/internal/config"
	"codewright/internal/store"

	"github.com/spf13/cobra"
)

// sessionsCmd manages saved sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
	Long: `List and manage saved conversations.

Subcommands:
  list    - List all saved sessions
  delete  - Delete a session`,
	RunE: runSessionsList,
}

// sessionsListCmd lists saved sessions
var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved sessions",
	RunE:  runSessionsList,
}

// sessionsDeleteCmd deletes a saved session
var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

// openSessionStore opens the store configured for the workspace.
func openSessionStore() (*store.Store, error) {
	ws := resolveWorkspace()
	cfg, err := config.Load(config.ResolvePath(ws))
	if err != nil {
		return nil, err
	}
	if cfg.Store.DatabasePath == "" {
		return nil, fmt.Errorf("session persistence is disabled (store.database_path is empty)")
	}
	return store.NewStore(resolveUnder(ws, cfg.Store.DatabasePath))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	fmt.Println("Saved Sessions")
	fmt.Println(strings.Repeat("─", 72))
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("  %-10s %-42s %3d msgs  %s\n",
			s.ID, truncate(title, 40), s.MessageCount, relativeTime(s.UpdatedAt))
	}
	fmt.Println(strings.Repeat("─", 72))
	fmt.Printf("Total: %d sessions\n", len(sessions))
	fmt.Println("\nUse: wright --session <session-id> to resume one.")

	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id := args[0]
	if err := st.DeleteSession(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session '%s' not found. Use 'wright sessions list' to see saved sessions", id)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Printf("Deleted session '%s'.\n", id)
	return nil
}

// relativeTime renders an age like "2h ago" for listings.
func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
}
