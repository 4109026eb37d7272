package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maloferriol/my-local-ai-agent/internal/agent"
	"github.com/maloferriol/my-local-ai-agent/internal/config"
	"github.com/maloferriol/my-local-ai-agent/internal/conversation"
	"github.com/maloferriol/my-local-ai-agent/internal/llm"
	"github.com/maloferriol/my-local-ai-agent/internal/signal"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatModel          string
	chatConversationID int64
	chatStorePath      string
	chatNoStore        bool
	chatShowThinking   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to the agent and stream the reply",
	Long: `Send a message to the agent and stream the reply to the terminal.
Tool calls requested by the model run locally between turns.

Examples:
  my-local-ai-agent chat "what's the weather in Paris?"
  my-local-ai-agent chat --conversation 3 "and in Lyon?"
  my-local-ai-agent chat --model qwen3:8b "hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatModel, "model", "", "Override the configured model")
	chatCmd.Flags().Int64Var(&chatConversationID, "conversation", 0, "Resume an existing conversation by id")
	chatCmd.Flags().StringVar(&chatStorePath, "store", "", "Conversation database path")
	chatCmd.Flags().BoolVar(&chatNoStore, "no-store", false, "Disable conversation persistence")
	chatCmd.Flags().BoolVar(&chatShowThinking, "thinking", true, "Show the model's thinking stream")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(chatModel, chatStorePath)
	if chatNoStore {
		cfg.Store.Enabled = false
	}

	logger := newLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	model := cfg.Ollama.Model
	caps, err := capabilitiesFor(model)
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	incoming := &conversation.Conversation{
		ID: chatConversationID,
		Messages: []conversation.Message{
			{Role: llm.RoleUser, Content: prompt, Model: model},
		},
	}

	mgr, err := conversation.NewManager(ctx, store, incoming, logger)
	if err != nil {
		return err
	}

	stream := engine.Run(ctx, mgr, model, caps)
	defer stream.Close()

	out := cmd.OutOrStdout()
	return renderEvents(stream, out, chatShowThinking)
}

// renderEvents prints the event stream to the terminal. Thinking goes out
// dimmed when the output is a TTY, tool outcomes get a one-line label, and
// content streams through as-is.
func renderEvents(stream *agent.Stream, out io.Writer, showThinking bool) error {
	dim, reset := "", ""
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		dim, reset = "\x1b[2m", "\x1b[0m"
	}

	inThinking := false
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}

		switch event.Stage {
		case agent.StageMetadata:
			fmt.Fprintf(out, "%s[conversation %d]%s\n", dim, event.ConversationID, reset)
		case agent.StageThinking:
			if showThinking {
				fmt.Fprintf(out, "%s%s%s", dim, event.Response, reset)
				inThinking = true
			}
		case agent.StageContent:
			if inThinking {
				fmt.Fprintln(out)
				inThinking = false
			}
			fmt.Fprint(out, event.Response)
		case agent.StageToolResult:
			if inThinking {
				fmt.Fprintln(out)
				inThinking = false
			}
			fmt.Fprintf(out, "\n%s[tool %s] %s%s\n", dim, event.Tool, event.Result, reset)
		case agent.StageToolError:
			if inThinking {
				fmt.Fprintln(out)
				inThinking = false
			}
			fmt.Fprintf(out, "\n%s[tool %s failed] %s%s\n", dim, event.Tool, event.Error, reset)
		case agent.StageError:
			fmt.Fprintf(out, "\nerror: %s\n", event.Response)
		}
	}
}
