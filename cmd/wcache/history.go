package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/amonks/workcache/history"
	"github.com/amonks/workcache/internal/ui"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history KEY",
	Short: "Show the last recorded execution for KEY",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var historyJSON bool

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	env, err := openCache(cmd.Context(), openOptions{})
	if err != nil {
		return err
	}
	defer env.Close()

	key := args[0]
	rec, ok, err := env.provider.History().Load(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no history for %s", key)
	}

	if historyJSON {
		return encodeJSON(cmd.OutOrStdout(), rec)
	}
	writeHistoryRecord(cmd.OutOrStdout(), rec, time.Now())
	return nil
}

func writeHistoryRecord(w io.Writer, rec history.Record, now time.Time) {
	var b strings.Builder
	fmt.Fprintf(&b, "key       %s\n", rec.Key)
	fmt.Fprintf(&b, "outcome   %s\n", ui.Outcome(string(rec.Outcome), rec.Succeeded()))
	fmt.Fprintf(&b, "executed  %s (%s)\n", ui.FormatTimeAgo(rec.ExecutedAt, now), rec.ExecutedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "duration  %s\n", rec.Duration.Round(time.Millisecond))
	if rec.OriginID != "" {
		fmt.Fprintf(&b, "origin    %s\n", rec.OriginID)
	}

	if len(rec.Outputs) > 0 {
		b.WriteString("\n")
		rows := make([][]string, 0, len(rec.Outputs))
		for _, name := range slices.Sorted(maps.Keys(rec.Outputs)) {
			rows = append(rows, []string{name, rec.Outputs[name]})
		}
		b.WriteString(ui.FormatTable([]string{"OUTPUT", "FINGERPRINT"}, rows))
	}
	io.WriteString(w, b.String())
}
