package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "codegraph",
		Short:         "Extract structural facts from Python code into a Neo4j graph",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file path (YAML)")
	pf.StringVar(&flags.root, "root", "", "Root directory or file to analyze")
	pf.StringVar(&flags.out, "out", "", "Fact log directory")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Project into an in-memory graph instead of Neo4j")
	pf.IntVar(&flags.workers, "workers", 0, "Number of files processed concurrently")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.jsonOut, "json", false, "Print the report as JSON")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Walk, extract, write the fact log and project the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, true, func(a *app) error { return a.run(cmd.Context(), true) })
		},
	}

	parseCmd := &cobra.Command{
		Use:   "parse",
		Short: "Walk, extract and write the fact log without touching the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, false, func(a *app) error { return a.run(cmd.Context(), false) })
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Project a previously written fact log into the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, true, func(a *app) error { return a.replay(cmd.Context()) })
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every node and relationship in the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, true, func(a *app) error { return a.clear(cmd.Context()) })
		},
	}

	calleesCmd := &cobra.Command{
		Use:   "callees <file> <qualname>",
		Short: "List the functions called by a function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, true, func(a *app) error { return a.callees(cmd.Context(), args[0], args[1]) })
		},
	}

	var listen string
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the pipeline whenever source files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, true, func(a *app) error {
				if cmd.Flags().Changed("listen") {
					a.cfg.Watch.Listen = listen
				}
				return a.watch(cmd.Context())
			})
		},
	}
	watchCmd.Flags().StringVar(&listen, "listen", "", "Serve /healthz, /readyz and /metrics on this address")

	rootCmd.AddCommand(runCmd, parseCmd, replayCmd, clearCmd, calleesCmd, watchCmd)
	return rootCmd
}
