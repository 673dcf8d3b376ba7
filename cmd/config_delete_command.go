package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDeleteYes bool

var configDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the active configuration file.",
	Long: `Remove the config file tracksync is currently using.

The file holds the Redmine admin key and every user's Toggl token. Unless --yes
is given you must type "Y" to go ahead. Fails when no config file is active.`,
	Example: `
  # Remove the active config
  tracksync config delete

  # Remove a custom config without asking
  tracksync --configFile ./custom-tracksync.yaml config delete --yes
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteConfigFile(viper.ConfigFileUsed(), configDeleteYes)
	},
}

func deleteConfigFile(path string, skipPrompt bool) error {
	if path == "" {
		return errors.New("no configuration file found")
	}

	if !skipPrompt {
		ok, err := confirmPrompt(promptInput, promptOutput, fmt.Sprintf("Delete config %q with all stored tokens? Type Y to confirm: ", path))
		if err != nil {
			return err
		}
		if !ok {
			return errDeleteAborted
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove config file: %w", err)
	}
	fmt.Fprintf(promptOutput, "Removed config file %s\n", path)
	return nil
}

func init() {
	configCmd.AddCommand(configDeleteCmd)

	configDeleteCmd.Flags().BoolVarP(&configDeleteYes, "yes", "y", false, "Delete without confirmation prompt")
}
