package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mukut03/agents/agents"
	"github.com/mukut03/agents/app/runtime"
	"github.com/mukut03/agents/framework"
)

// saveFunc persists the conversation after an answer; nil means the chat is
// not bound to a session.
type saveFunc func(ctx context.Context, mem *framework.Memory) error

func newChatCmd() *cobra.Command {
	var sessionID string
	var plain bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation (/reset, /memory, /exit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			var mem *framework.Memory
			var save saveFunc
			if sessionID != "" {
				if mem, err = rt.LoadMemory(ctx, sessionID); err != nil {
					return err
				}
				save = func(ctx context.Context, mem *framework.Memory) error {
					return rt.SaveMemory(ctx, sessionID, mem)
				}
			}
			orch := rt.NewOrchestrator(mem)

			if !plain && isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout()) {
				return runChatTUI(ctx, orch, rt.Config.LLM.Model, save)
			}
			return runChatLines(ctx, rt, orch, save, cmd.InOrStdin(), cmd.OutOrStdout(), plain)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation id to resume and save after every answer")
	cmd.Flags().BoolVar(&plain, "plain", false, "Line mode with unstyled answers")
	return cmd
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// runChatLines is the line-oriented chat used for --plain and piped input.
func runChatLines(ctx context.Context, rt *runtime.Runtime, orch *agents.Orchestrator, save saveFunc, in io.Reader, out io.Writer, plain bool) error {
	fmt.Fprintln(out, headerStyle.Render("mapagent chat")+dimStyle.Render(" · model "+rt.Config.LLM.Model))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, dimStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return scanner.Err()
		case "/reset":
			orch.Reset()
			fmt.Fprintln(out, dimStyle.Render("conversation cleared"))
			continue
		case "/memory":
			data, err := json.MarshalIndent(orch.Memory().Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			continue
		}
		answer, err := orch.ProcessQuery(ctx, line)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
			continue
		}
		printAnswer(out, answer, plain)
		if save != nil {
			if err := save(ctx, orch.Memory()); err != nil {
				rt.Logger.Error("save session failed", "err", err)
			}
		}
	}
	return scanner.Err()
}
