// Package main is the entry point for the appcraft CLI.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "appcraft",
		Short:         "Scheduled jobs and safe fetches for generated applications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), cronCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "appcraft %s (commit: %s, built: %s)\n", version, commit, date)
	fmt.Fprintln(w, "\nCompiled modules:")
	for _, mod := range core.GetModules() {
		fmt.Fprintf(w, "  %s\n", mod.ID)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start appcraft with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(runParams(cmd))
		},
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().String("data-dir", "", "Persistent data directory")
}

func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}
