package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tracksync configuration file values.",
	Long: `Create, edit, display, and delete the tracksync configuration file.

The configuration stores application-wide values and the synced users:
- redmine.url / redmine.api_token (admin) / redmine.activity_id
- toggl.url
- sync.last_month_sync_expiry_days / update_entries_as_admin_user / timezone / daily_at
- mail.enabled / host / port / username / password / from / admin_email / tls_policy
- logging.level / logging.dir
- users[].toggl_api_token / toggl_workspace_id / toggl_user_id / redmine_username / notifications_email

Every key can be overridden by an environment variable with the TRACKSYNC_ prefix,
e.g. TRACKSYNC_REDMINE_API_TOKEN. A .env file in the working directory is loaded first.`,
	Example: `
  # Create default config in $HOME/.tracksync.yaml
  tracksync config create

  # Show active config and source file
  tracksync config show

  # Open active config in editor (creates example if missing)
  tracksync config edit

  # Delete active config file
  tracksync config delete
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
