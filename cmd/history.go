package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"tracksync/storage"
	"tracksync/syncer"
)

var (
	historyDBPath   string
	historyLimit    int
	historyKeepDays int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List sync runs stored in the local SQLite history",
	Long: `List stored sync runs, newest first, with their outcome counts.

Use "history show <run-id>" to print every outcome of one run and
"history prune" to drop old runs.`,
	Example: `
  # List the last 20 runs
  tracksync history --limit 20

  # Show all outcomes of one run
  tracksync history show 1b4e28ba-2fa1-11d2-883f-0016d3cca427
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.OpenSQLite(historyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sync runs stored yet.")
			return nil
		}
		return writeRunsTable(cmd.OutOrStdout(), runs)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show all outcomes of one stored sync run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.OpenSQLite(historyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		run, found, err := store.GetRun(args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", storage.ErrRunNotFound, args[0])
		}
		records, err := store.ListRecords(run.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s started %s, range %s - %s", run.ID, run.StartedAt.Local().Format(time.DateTime), run.From, run.To)
		if run.DryRun {
			fmt.Fprint(out, " (dry run)")
		}
		fmt.Fprintln(out)
		return writeRecordsTable(out, records)
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored runs older than --keep-days",
	Example: `
  # Keep only the last 90 days of runs
  tracksync history prune --keep-days 90
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyKeepDays < 1 {
			return fmt.Errorf("--keep-days must be at least 1")
		}

		store, err := storage.OpenSQLite(historyDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		cutoff := time.Now().AddDate(0, 0, -historyKeepDays)
		deleted, err := store.DeleteRunsBefore(cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s) started before %s\n", deleted, cutoff.Format(time.DateTime))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.PersistentFlags().StringVar(&historyDBPath, "db", "./tracksync.db", "Path to local SQLite run history")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to list (0 lists all)")
	historyPruneCmd.Flags().IntVar(&historyKeepDays, "keep-days", 90, "Number of days of runs to keep")
}

func writeRunsTable(w io.Writer, runs []storage.Run) error {
	table := tablewriter.NewTable(w)
	table.Header("Run", "Started", "Range", "Dry run", "Created", "Updated", "Unchanged", "Failed", "Failed users")
	for _, run := range runs {
		err := table.Append(
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.From+" - "+run.To,
			strconv.FormatBool(run.DryRun),
			strconv.Itoa(run.Counts.Created),
			strconv.Itoa(run.Counts.Updated),
			strconv.Itoa(run.Counts.Unchanged),
			strconv.Itoa(run.Counts.Failed),
			strconv.Itoa(run.Counts.FailedOwners),
		)
		if err != nil {
			return fmt.Errorf("append run row: %w", err)
		}
	}
	return table.Render()
}

func writeRecordsTable(w io.Writer, records []syncer.Record) error {
	table := tablewriter.NewTable(w)
	table.Header("User", "Status", "Origin", "Date", "#", "h", "Description", "Changes / Message")
	for _, record := range records {
		detail := record.Changes
		if record.Message != "" {
			detail = record.Message
		}
		issue := ""
		if record.IssueID != 0 {
			issue = strconv.FormatInt(record.IssueID, 10)
		}
		err := table.Append(record.User, record.Status, record.Origin, record.Date, issue, record.Hours, record.Description, detail)
		if err != nil {
			return fmt.Errorf("append record row: %w", err)
		}
	}
	return table.Render()
}
