/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracksync/config"
)

const envPrefix = "TRACKSYNC"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tracksync",
	Short: "Synchronize Toggl time entries into Redmine time entries.",
	Long: `
**********************************************
*            TOGGL -> REDMINE                *
**********************************************

This CLI reads the Toggl time entries of every configured user, matches them to
Redmine issues via "#<issue id>" in the description and creates or updates the
corresponding Redmine time entries. Each synced Redmine entry carries the Toggl
entry id as "[<id>]" at the end of its comment.

Runs are reported on the console, optionally mailed and stored in a local SQLite
history that can be listed, exported and browsed.
`,
	Example: `
  # Create configuration file
  tracksync config create

  # Preview a sync without writing to Redmine
  tracksync sync --dry-run

  # Sync once and store the run in the history
  tracksync sync

  # Sync now and then every day at the configured time
  tracksync sync --daily

  # List and export stored runs
  tracksync history
  tracksync export --output ./last-run.xlsx

  # Browse stored runs in the browser
  tracksync serve
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !requiresConfig(cmd) {
			return nil
		}

		_, err := config.LoadAndValidate()
		return err
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.tracksync.yaml, then ./.tracksync.yaml)")
}

func requiresConfig(cmd *cobra.Command) bool {
	return cmd != nil && cmd.Name() == "sync"
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tracksync" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tracksync")
	}

	// TRACKSYNC_REDMINE_API_TOKEN overrides redmine.api_token.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Create one first with: tracksync config create")
	}
}
