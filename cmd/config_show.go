package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracksync/config"
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show active configuration values.",
	Long: `Display the currently loaded configuration and the resolved config file path.

This command validates the configuration before printing values. Secrets are masked.`,
	Example: `
  # Show active configuration
  tracksync config show
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			fmt.Println("Invalid config:", err)
			return
		}

		if configPath := viper.ConfigFileUsed(); configPath != "" {
			fmt.Println("Config file loaded from:", configPath)
		}
		fmt.Println("Configuration:")
		fmt.Printf("redmine.url: %s\n", cfg.Redmine.URL)
		fmt.Printf("redmine.api_token: %s\n", maskSecret(cfg.Redmine.APIToken))
		fmt.Printf("redmine.activity_id: %d\n", cfg.Redmine.ActivityID)
		fmt.Printf("toggl.url: %s\n", cfg.Toggl.URL)
		fmt.Printf("sync.last_month_sync_expiry_days: %d\n", cfg.Sync.LastMonthSyncExpiryDays)
		fmt.Printf("sync.update_entries_as_admin_user: %t\n", cfg.Sync.UpdateEntriesAsAdmin)
		fmt.Printf("sync.timezone: %s\n", cfg.Sync.Timezone)
		fmt.Printf("sync.daily_at: %s\n", cfg.Sync.DailyAt)
		fmt.Printf("mail.enabled: %t\n", cfg.Mail.Enabled)
		if cfg.Mail.Enabled {
			fmt.Printf("mail.host: %s\n", cfg.Mail.Host)
			fmt.Printf("mail.port: %d\n", cfg.Mail.Port)
			fmt.Printf("mail.username: %s\n", cfg.Mail.Username)
			fmt.Printf("mail.password: %s\n", maskSecret(cfg.Mail.Password))
			fmt.Printf("mail.from: %s\n", cfg.Mail.From)
			fmt.Printf("mail.admin_email: %s\n", cfg.Mail.AdminEmail)
			fmt.Printf("mail.tls_policy: %s\n", cfg.Mail.TLSPolicy)
		}
		fmt.Printf("logging.level: %s\n", cfg.Logging.Level)
		fmt.Printf("logging.dir: %s\n", cfg.Logging.Dir)
		fmt.Printf("users: %d\n", len(cfg.Users))
		for i, user := range cfg.Users {
			fmt.Printf("users[%d].toggl_api_token: %s\n", i, maskSecret(user.TogglAPIToken))
			fmt.Printf("users[%d].toggl_workspace_id: %d\n", i, user.TogglWorkspaceID)
			fmt.Printf("users[%d].toggl_user_id: %d\n", i, user.TogglUserID)
			fmt.Printf("users[%d].redmine_username: %s\n", i, user.RedmineUsername)
			fmt.Printf("users[%d].notifications_email: %s\n", i, user.NotificationsEmail)
		}
	},
}

// maskSecret keeps the last four characters of longer secrets.
func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
