package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mukut03/agents/app/runtime"
	"github.com/mukut03/agents/config"
)

var (
	cfgFile  string
	logLevel string

	globalCfg *config.Config

	// runtimeOptions is overridden by tests to inject a model and registries.
	runtimeOptions runtime.Options
)

// Execute is the entry point for the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mapagent",
		Short:         "Route-aware assistant driven by a local language model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				cfgFile = config.DefaultFileName
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			globalCfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to agent.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newAskCmd(),
		newChatCmd(),
		newServeCmd(),
		newMemoryCmd(),
		newToolsCmd(),
		newConfigCmd(),
	)
	return root
}

// buildRuntime creates the shared runtime from the loaded configuration.
func buildRuntime() (*runtime.Runtime, error) {
	cfg := globalCfg
	if cfg == nil {
		cfg = config.Default()
	}
	opts := runtimeOptions
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	return runtime.New(cfg, opts)
}
