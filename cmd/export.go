package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tracksync/output"
	"tracksync/storage"
)

var (
	exportFormat string
	exportRunID  string
	exportOutput string
	exportDBPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the outcomes of a stored sync run to CSV/Excel",
	Long: `Export every outcome of one stored sync run.

Without --run the most recent run is exported.
Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Export the latest run to CSV
  tracksync export --output ./last-run.csv

  # Export one run to Excel
  tracksync export --run 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --output ./run.xlsx

  # Force Excel format independent of extension
  tracksync export --format excel --output ./run.out
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := exportFormat
		if strings.TrimSpace(format) == "" {
			format = detectExportFormat(exportOutput)
		}
		writer, err := output.WriterForFormat(format)
		if err != nil {
			return err
		}

		store, err := storage.OpenSQLite(exportDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := resolveExportRun(store, exportRunID)
		if err != nil {
			return err
		}
		records, err := store.ListRecords(run.ID)
		if err != nil {
			return err
		}

		if err := writer.Write(exportOutput, records); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Export completed. Run: %s, Rows: %d, Format: %s, File: %s\n", run.ID, len(records), format, exportOutput)
		return nil
	},
}

func resolveExportRun(store *storage.SQLiteStore, runID string) (storage.Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		run, found, err := store.LatestRun()
		if err != nil {
			return storage.Run{}, err
		}
		if !found {
			return storage.Run{}, fmt.Errorf("%w: history is empty", storage.ErrRunNotFound)
		}
		return run, nil
	}

	run, found, err := store.GetRun(runID)
	if err != nil {
		return storage.Run{}, err
	}
	if !found {
		return storage.Run{}, fmt.Errorf("%w: %s", storage.ErrRunNotFound, runID)
	}
	return run, nil
}

func detectExportFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "csv":
		return "csv"
	case "xlsx", "xlsm", "xls":
		return "excel"
	default:
		return "csv"
	}
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportRunID, "run", "", "Run id to export (default: latest run)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path")
	exportCmd.Flags().StringVar(&exportDBPath, "db", "./tracksync.db", "Path to local SQLite run history")

	_ = exportCmd.MarkFlagRequired("output")
}
