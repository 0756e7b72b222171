// Package main implements the wcache CLI tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			if msg := err.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "wcache",
	Short:         "Workcache - reusable, exclusively held build workspaces",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	rootDir       string
	rootVerbose   bool
	rootLogFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "dir", "", "Workspace cache directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "text", "Log format: text or json")
}
