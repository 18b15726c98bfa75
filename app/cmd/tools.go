package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mukut03/agents/agents"
)

// newToolsCmd lists the registered tool catalog.
func newToolsCmd() *cobra.Command {
	var showPrompt bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			out := cmd.OutOrStdout()
			specs := rt.Tools.Specs()
			if showPrompt {
				fmt.Fprintln(out, agents.BuildSystemPrompt(rt.Config.Agent.SystemPrompt, specs))
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d tools", len(specs))))
			for _, spec := range specs {
				fmt.Fprintf(out, "%s  %s\n", toolNameStyle.Render(spec.Name), dimStyle.Render(spec.Description))
				for _, param := range spec.Parameters {
					req := ""
					if param.Required {
						req = " (required)"
					}
					fmt.Fprintf(out, "    %s: %s%s\n", param.Name, param.Type, req)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPrompt, "prompt", false, "Print the full system prompt instead")
	return cmd
}
