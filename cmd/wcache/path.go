package main

import (
	"fmt"

	"github.com/amonks/workcache/history"
	"github.com/spf13/cobra"
)

var pathCmd = &cobra.Command{
	Use:   "path KEY",
	Short: "Create the workspace for KEY and print its path",
	Args:  cobra.ExactArgs(1),
	RunE:  runPath,
}

func init() {
	rootCmd.AddCommand(pathCmd)
}

func runPath(cmd *cobra.Command, args []string) error {
	env, err := openCache(cmd.Context(), openOptions{})
	if err != nil {
		return err
	}
	defer env.Close()

	return env.provider.WithWorkspace(cmd.Context(), args[0], func(dir string, _ history.Store) error {
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	})
}
