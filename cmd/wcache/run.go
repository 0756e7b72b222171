package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/amonks/workcache/history"
	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/internal/ui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run KEY -- CMD [ARGS...]",
	Short: "Run a command inside the workspace for KEY",
	Long: `Run a command inside the workspace for KEY, holding the workspace
exclusively until the command exits. The command sees WORKCACHE_DIR and
WORKCACHE_KEY in its environment. Its outcome is stored in the history
store and wcache exits with the command's status.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

var runReuse bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runReuse, "reuse", false, "Skip the command if the last run for KEY succeeded")
}

func runRun(cmd *cobra.Command, args []string) error {
	if cmd.ArgsLenAtDash() != 1 {
		return fmt.Errorf("usage: %s", cmd.UseLine())
	}
	key, command := args[0], args[1:]

	env, err := openCache(cmd.Context(), openOptions{})
	if err != nil {
		return err
	}
	defer env.Close()

	originID := uuid.NewString()
	var exitCode int
	err = env.provider.WithWorkspace(cmd.Context(), key, func(dir string, h history.Store) error {
		if runReuse {
			prev, ok, err := h.Load(key)
			if err != nil {
				return err
			}
			if ok && prev.Succeeded() {
				fmt.Fprintf(cmd.ErrOrStderr(), "reusing %s from %s\n", key, ui.FormatTimeAgo(prev.ExecutedAt, time.Now()))
				return nil
			}
		}

		start := time.Now()
		child := exec.CommandContext(cmd.Context(), command[0], command[1:]...)
		child.Dir = dir
		child.Env = append(os.Environ(), "WORKCACHE_DIR="+dir, "WORKCACHE_KEY="+key)
		child.Stdin = cmd.InOrStdin()
		child.Stdout = cmd.OutOrStdout()
		child.Stderr = cmd.ErrOrStderr()
		runErr := child.Run()

		rec := history.Record{
			Key:        key,
			Outcome:    history.OutcomeSuccess,
			ExecutedAt: start,
			Duration:   time.Since(start),
			OriginID:   originID,
		}
		var exitErr *exec.ExitError
		switch {
		case runErr == nil:
		case errors.As(runErr, &exitErr):
			rec.Outcome = history.OutcomeFailed
			exitCode = exitErr.ExitCode()
			if exitCode <= 0 {
				exitCode = 1
			}
		default:
			return fmt.Errorf("run %s: %w", command[0], runErr)
		}

		outputs, err := fingerprintOutputs(dir)
		if err != nil {
			env.logger.Warn("fingerprint outputs failed", logfields.Key(key), logfields.Error(err))
		}
		rec.Outputs = outputs

		if err := h.Store(key, rec); err != nil {
			return fmt.Errorf("store history: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return exitError{code: exitCode}
	}
	return nil
}
