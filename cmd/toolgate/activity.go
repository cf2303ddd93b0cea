package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolgate/internal/config"
	"toolgate/internal/storage"
)

var (
	activityCmd = &cobra.Command{
		Use:   "activity",
		Short: "Inspect the execution activity journal",
		Long: `Inspect the bbolt activity journal under the data directory.

The journal is written by the running server; these commands open the
database file directly, so stop the server first or the open will time
out waiting for the file lock.`,
	}

	activityTailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Show recent tool executions, newest first",
		RunE:  runActivityTail,
	}

	activityStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show lifetime run counters per tool",
		RunE:  runActivityStats,
	}

	activityPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Drop journal records older than --max-age",
		RunE:  runActivityPrune,
	}

	activityDataDir string
	activityClient  string
	activityTool    string
	activityStatus  string
	activityLimit   int
	activityMaxAge  time.Duration
)

// GetActivityCommand returns the activity command for the root command.
func GetActivityCommand() *cobra.Command { return activityCmd }

func init() {
	activityCmd.AddCommand(activityTailCmd, activityStatsCmd, activityPruneCmd)
	activityCmd.PersistentFlags().StringVarP(&activityDataDir, "data-dir", "d", "", "Data directory path")

	activityTailCmd.Flags().StringVar(&activityClient, "client", "", "Only show executions by this client id")
	activityTailCmd.Flags().StringVar(&activityTool, "tool", "", "Only show executions of this tool")
	activityTailCmd.Flags().StringVar(&activityStatus, "status", "", "Only show executions with this status")
	activityTailCmd.Flags().IntVar(&activityLimit, "limit", 20, "Maximum number of records to show")

	activityPruneCmd.Flags().DurationVar(&activityMaxAge, "max-age", 30*24*time.Hour, "Drop records older than this")
}

func openActivityStore() (*storage.Store, error) {
	dir := activityDataDir
	if dir == "" {
		dir = config.DefaultConfig().DataDir
	}
	return storage.Open(dir, zap.NewNop().Sugar())
}

func runActivityTail(_ *cobra.Command, _ []string) error {
	store, err := openActivityStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, total, err := store.List(storage.Filter{
		ClientID: activityClient,
		Tool:     activityTool,
		Status:   activityStatus,
		Limit:    activityLimit,
	})
	if err != nil {
		return err
	}
	if total == 0 {
		fmt.Println("No activity recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tCLIENT\tSTATUS\tMS\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Timestamp.Format(time.RFC3339), rec.Tool, rec.ClientID,
			rec.Status, rec.DurationMS, rec.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %d record(s)\n", len(records), total)
	return nil
}

func runActivityStats(_ *cobra.Command, _ []string) error {
	store, err := openActivityStore()
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.ToolCounts()
	if err != nil {
		return err
	}
	total, err := store.Count()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tRUNS")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d journal record(s) on disk\n", total)
	return nil
}

func runActivityPrune(_ *cobra.Command, _ []string) error {
	store, err := openActivityStore()
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(activityMaxAge)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d record(s) older than %s\n", removed, activityMaxAge)
	return nil
}
