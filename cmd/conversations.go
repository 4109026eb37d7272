package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maloferriol/my-local-ai-agent/internal/config"
	"github.com/spf13/cobra"
)

var (
	conversationsLimit int
	conversationsStore string
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List stored conversations",
	Long: `List stored conversations, most recently updated first.

Examples:
  my-local-ai-agent conversations
  my-local-ai-agent conversations --limit 10`,
	RunE: runConversations,
}

func init() {
	rootCmd.AddCommand(conversationsCmd)

	conversationsCmd.Flags().IntVar(&conversationsLimit, "limit", 50, "Max conversations to list")
	conversationsCmd.Flags().StringVar(&conversationsStore, "store", "", "Conversation database path")
}

func runConversations(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides("", conversationsStore)
	if !cfg.Store.Enabled {
		return fmt.Errorf("conversation store is disabled in config")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.ListConversations(context.Background(), conversationsLimit)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}

	fmt.Fprintf(out, "%-5s %-30s %-15s %5s %s\n", "ID", "TITLE", "MODEL", "MSGS", "UPDATED")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		if len(title) > 30 {
			title = title[:27] + "..."
		}
		fmt.Fprintf(out, "%-5d %-30s %-15s %5d %s\n",
			s.ID, title, s.Model, s.MessageCount, formatRelativeTime(s.UpdatedAt))
	}
	return nil
}

func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
