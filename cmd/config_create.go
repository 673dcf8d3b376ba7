package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracksync/config"
)

var configCreateForce bool

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration file from the example template.",
	Long: `Create a new configuration file from the same example template used by "config edit".

If a configuration file is already in use, no new file is written unless --force is set.
The file is written with mode 0600 because it holds API tokens.`,
	Example: `
  # Create default config at $HOME/.tracksync.yaml
  tracksync config create

  # Replace an existing config with the example template
  tracksync config create --force
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return saveDefaultConfig(cmd.OutOrStdout(), configCreateForce)
	},
}

func saveDefaultConfig(out io.Writer, force bool) error {
	configPath, err := resolveConfigEditPath(cfgFile, viper.ConfigFileUsed())
	if err != nil {
		return err
	}

	if force {
		if err := os.WriteFile(configPath, []byte(config.ExampleYAML()), 0o600); err != nil {
			return fmt.Errorf("overwriting config file failed: %w", err)
		}
		fmt.Fprintf(out, "Config file replaced with example at: %s\n", configPath)
		return nil
	}

	created, err := ensureConfigFileWithTemplate(configPath)
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(out, "New config file created at: %s\n", configPath)
		fmt.Fprintln(out, "Fill in redmine.api_token and the users list, then run: tracksync config show")
		return nil
	}

	fmt.Fprintf(out, "Config file already exists at: %s (use --force to replace it)\n", configPath)
	return nil
}

func init() {
	configCmd.AddCommand(configCreateCmd)

	configCreateCmd.Flags().BoolVar(&configCreateForce, "force", false, "Overwrite an existing config file with the example template")
}
