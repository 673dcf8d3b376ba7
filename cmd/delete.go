package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteDBPath string

// Prompt streams, swapped in tests.
var (
	promptInput  io.Reader = os.Stdin
	promptOutput io.Writer = os.Stdout
)

// sqliteSidecars are files SQLite and the sync lock leave next to the database.
var sqliteSidecars = []string{"-wal", "-shm", "-journal", ".lock"}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the local run history database",
	Long: `Remove the SQLite run history together with its journal and lock files.

Redmine and Toggl are not touched. To drop only old runs use "history prune".
The files to be removed are listed first and must be confirmed by typing "Y".`,
	Example: `
  # Remove the run history (asks for confirmation)
  tracksync delete --db ./tracksync.db
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := databaseArtifacts(deleteDBPath)
		if err != nil {
			return err
		}

		fmt.Fprintln(promptOutput, "The following files will be removed:")
		for _, file := range files {
			fmt.Fprintf(promptOutput, "  %s\n", file)
		}
		ok, err := confirmPrompt(promptInput, promptOutput, "Type Y to confirm: ")
		if err != nil {
			return err
		}
		if !ok {
			return errDeleteAborted
		}

		for _, file := range files {
			if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", file, err)
			}
		}
		fmt.Printf("Removed %d file(s) for %s\n", len(files), deleteDBPath)
		return nil
	},
}

var errDeleteAborted = errors.New("delete aborted: confirmation was not 'Y'")

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().StringVar(&deleteDBPath, "db", "./tracksync.db", "Path to local SQLite run history")
}

// databaseArtifacts returns path followed by every existing sidecar. path
// itself must be a regular file.
func databaseArtifacts(path string) ([]string, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("database file not found: %s", path)
	case err != nil:
		return nil, fmt.Errorf("stat database file: %w", err)
	case info.IsDir():
		return nil, fmt.Errorf("database path is a directory: %s", path)
	}

	files := []string{path}
	for _, suffix := range sqliteSidecars {
		if _, err := os.Stat(path + suffix); err == nil {
			files = append(files, path+suffix)
		}
	}
	return files, nil
}

// confirmPrompt writes prompt and reports whether the answer line is exactly "Y".
// A missing trailing newline is accepted.
func confirmPrompt(input io.Reader, output io.Writer, prompt string) (bool, error) {
	if input == nil {
		return false, fmt.Errorf("confirmation input is not available")
	}
	if output != nil {
		if _, err := io.WriteString(output, prompt); err != nil {
			return false, fmt.Errorf("write confirmation prompt: %w", err)
		}
	}

	answer, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(answer) == "Y", nil
}
