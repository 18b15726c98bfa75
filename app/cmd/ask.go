package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mukut03/agents/app/runtime"
	"github.com/mukut03/agents/framework"
)

func newAskCmd() *cobra.Command {
	var sessionID string
	var plain bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a single query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			query := strings.Join(args, " ")
			answer, err := runQuery(cmd.Context(), rt, sessionID, query)
			if err != nil {
				return err
			}
			printAnswer(cmd.OutOrStdout(), answer, plain)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation id to resume and save")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print the answer without styling")
	return cmd
}

// runQuery answers query, restoring and saving the conversation when
// sessionID is set.
func runQuery(ctx context.Context, rt *runtime.Runtime, sessionID, query string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var mem *framework.Memory
	if sessionID != "" {
		loaded, err := rt.LoadMemory(ctx, sessionID)
		if err != nil {
			return "", err
		}
		mem = loaded
	}
	orch := rt.NewOrchestrator(mem)
	answer, err := orch.ProcessQuery(ctx, query)
	if sessionID != "" {
		if saveErr := rt.SaveMemory(ctx, sessionID, orch.Memory()); saveErr != nil {
			rt.Logger.Error("save session failed", "session", sessionID, "err", saveErr)
		}
	}
	return answer, err
}

func printAnswer(w io.Writer, answer string, plain bool) {
	if plain {
		fmt.Fprintln(w, answer)
		return
	}
	fmt.Fprintln(w, answerBoxStyle.Render(answer))
}
