package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goosewin/cappair/internal/state"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded caption runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run, including failed image ids",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	runs, err := state.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		fmt.Fprintln(out, "Start one with: cappair run --images <dir>")
		return nil
	}
	if historyLimit > 0 && len(runs) > historyLimit {
		runs = runs[:historyLimit]
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tSTARTED\tBACKEND\tOK\tFAILED\tSTATUS\tOUTPUT")
	for _, run := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.Backend,
			run.Succeeded,
			run.Failed,
			run.Status,
			truncateDir(run.OutputPath, 40),
		)
	}
	return writer.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	run, err := findRun(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Duration:  %s\n", (time.Duration(run.DurationMS) * time.Millisecond).Round(time.Second))
	fmt.Fprintf(out, "Backend:   %s %s\n", run.Backend, run.Model)
	fmt.Fprintf(out, "Images:    %s\n", run.ImagesDir)
	fmt.Fprintf(out, "Output:    %s\n", run.OutputPath)
	fmt.Fprintf(out, "Captioned: %d/%d\n", run.Succeeded, run.Total)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.Error)
	}
	if len(run.FailedIDs) > 0 {
		fmt.Fprintf(out, "Failed:    %s\n", strings.Join(run.FailedIDs, ", "))
	}
	return nil
}

// findRun accepts a full id or the short prefix printed by history.
func findRun(id string) (state.Run, error) {
	if run, err := state.GetRun(id); err == nil {
		return run, nil
	}
	runs, err := state.ListRuns()
	if err != nil {
		return state.Run{}, err
	}
	var matches []state.Run
	for _, run := range runs {
		if strings.HasPrefix(run.ID, id) {
			matches = append(matches, run)
		}
	}
	switch len(matches) {
	case 0:
		return state.Run{}, fmt.Errorf("%w: %s", state.ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return state.Run{}, fmt.Errorf("run id %q is ambiguous (%d matches)", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncateDir(dir string, max int) string {
	if max <= 0 {
		return dir
	}
	if len(dir) <= max {
		return dir
	}
	if max <= 3 {
		return dir[:max]
	}
	return "..." + dir[len(dir)-(max-3):]
}
