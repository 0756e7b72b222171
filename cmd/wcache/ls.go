package main

import (
	"fmt"
	"time"

	"github.com/amonks/workcache/internal/ui"
	"github.com/amonks/workcache/workspace"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List workspaces and when they were last used",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

var lsJSON bool

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Output as JSON")
}

type lsItem struct {
	Key        string    `json:"key"`
	Path       string    `json:"path"`
	LastAccess time.Time `json:"last_access"`
	Source     string    `json:"source"`
	InUse      bool      `json:"in_use"`
}

func runLs(cmd *cobra.Command, args []string) error {
	env, err := openCache(cmd.Context(), openOptions{})
	if err != nil {
		return err
	}
	defer env.Close()

	infos, err := env.provider.List(cmd.Context())
	if err != nil {
		return err
	}

	items := make([]lsItem, 0, len(infos))
	for _, info := range infos {
		items = append(items, toLsItem(info))
	}

	if lsJSON {
		return encodeJSON(cmd.OutOrStdout(), items)
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workspaces found.")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), formatLsTable(items, time.Now()))
	return nil
}

func toLsItem(info workspace.Info) lsItem {
	source := "mtime"
	if info.Journaled {
		source = "journal"
	}
	return lsItem{
		Key:        info.Key,
		Path:       info.Path,
		LastAccess: info.LastAccess,
		Source:     source,
		InUse:      info.InUse,
	}
}

func formatLsTable(items []lsItem, now time.Time) string {
	builder := ui.NewTableBuilder([]string{"KEY", "LAST USED", "SOURCE", "STATUS", "PATH"}, len(items))
	for _, item := range items {
		status := "idle"
		if item.InUse {
			status = ui.Muted("in use")
		}
		builder.AddRow([]string{
			item.Key,
			ui.FormatTimeAgo(item.LastAccess, now),
			item.Source,
			status,
			item.Path,
		})
	}
	return builder.String()
}
