package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyRedmineActivityID       = "redmine.activity_id"
	KeyTogglURL                = "toggl.url"
	KeySyncExpiryDays          = "sync.last_month_sync_expiry_days"
	KeySyncUpdateAsAdmin       = "sync.update_entries_as_admin_user"
	KeySyncDailyAt             = "sync.daily_at"
	KeyMailEnabled             = "mail.enabled"
	KeyMailPort                = "mail.port"
	KeyMailTLSPolicy           = "mail.tls_policy"
	KeyLoggingLevel            = "logging.level"
	DefaultTogglURL            = "https://api.track.toggl.com/reports/api/v2"
	DefaultLastMonthExpiryDays = 5
	DefaultDailyAt             = "06:00"
	defaultMailPort            = 587
	defaultMailTLSPolicy       = "opportunistic"
	defaultLoggingLevel        = "info"
)

type Config struct {
	Redmine RedmineConfig `mapstructure:"redmine" validate:"required"`
	Toggl   TogglConfig   `mapstructure:"toggl"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Mail    MailConfig    `mapstructure:"mail"`
	Logging LoggingConfig `mapstructure:"logging"`
	Users   []User        `mapstructure:"users" validate:"required,min=1,dive"`
}

type RedmineConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
	// APIToken must belong to an admin: users are listed and impersonated with it.
	APIToken   string `mapstructure:"api_token" validate:"required"`
	ActivityID int64  `mapstructure:"activity_id" validate:"gte=0"`
}

type TogglConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

type SyncConfig struct {
	LastMonthSyncExpiryDays int    `mapstructure:"last_month_sync_expiry_days" validate:"gte=0,lte=31"`
	UpdateEntriesAsAdmin    bool   `mapstructure:"update_entries_as_admin_user"`
	Timezone                string `mapstructure:"timezone"`
	DailyAt                 string `mapstructure:"daily_at"`
}

type MailConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from" validate:"omitempty,email"`
	AdminEmail string `mapstructure:"admin_email" validate:"omitempty,email"`
	TLSPolicy  string `mapstructure:"tls_policy" validate:"omitempty,oneof=opportunistic mandatory none"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	// Dir enables the JSON file sink, one file per day.
	Dir string `mapstructure:"dir"`
}

// User maps one Toggl account onto a Redmine login.
type User struct {
	TogglAPIToken      string `mapstructure:"toggl_api_token" validate:"required"`
	TogglWorkspaceID   int64  `mapstructure:"toggl_workspace_id" validate:"required,gt=0"`
	TogglUserID        int64  `mapstructure:"toggl_user_id" validate:"required,gt=0"`
	RedmineUsername    string `mapstructure:"redmine_username" validate:"required"`
	NotificationsEmail string `mapstructure:"notifications_email" validate:"omitempty,email"`
}

// Location resolves sync.timezone, falling back to the local zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Sync.Timezone)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DailyClock parses sync.daily_at as hour and minute.
func (c Config) DailyClock() (int, int, error) {
	return ParseClock(c.Sync.DailyAt)
}

// ParseClock parses an "HH:MM" wall clock time.
func ParseClock(value string) (int, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = DefaultDailyAt
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("parse clock %q (expected HH:MM): %w", value, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

// ExampleYAML returns the default configuration template.
func ExampleYAML() string {
	return `# tracksync configuration
redmine:
  url: "https://redmine.example.com"
  api_token: "<redmine admin api key>"
  # activity_id: 9

toggl:
  url: "https://api.track.toggl.com/reports/api/v2"

sync:
  last_month_sync_expiry_days: 5
  update_entries_as_admin_user: false
  timezone: "Europe/Berlin"
  daily_at: "06:00"

mail:
  enabled: false
  host: "smtp.example.com"
  port: 587
  username: ""
  password: ""
  from: "tracksync@example.com"
  admin_email: "admin@example.com"
  tls_policy: "opportunistic"

logging:
  level: "info"
  dir: ""

users:
  - toggl_api_token: "<toggl api token>"
    toggl_workspace_id: 1234567
    toggl_user_id: 7654321
    redmine_username: "jdoe"
    notifications_email: "jdoe@example.com"
`
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := validateUsers(cfg.Users); err != nil {
		return nil, err
	}
	if err := validateMail(cfg.Mail); err != nil {
		return nil, err
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if _, _, err := cfg.DailyClock(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTogglURL, DefaultTogglURL)
	v.SetDefault(KeySyncExpiryDays, DefaultLastMonthExpiryDays)
	v.SetDefault(KeySyncUpdateAsAdmin, false)
	v.SetDefault(KeySyncDailyAt, DefaultDailyAt)
	v.SetDefault(KeyRedmineActivityID, 0)
	v.SetDefault(KeyMailEnabled, false)
	v.SetDefault(KeyMailPort, defaultMailPort)
	v.SetDefault(KeyMailTLSPolicy, defaultMailTLSPolicy)
	v.SetDefault(KeyLoggingLevel, defaultLoggingLevel)
}

func validateUsers(users []User) error {
	togglIDs := make(map[int64]struct{}, len(users))
	logins := make(map[string]struct{}, len(users))
	for i, user := range users {
		if _, exists := togglIDs[user.TogglUserID]; exists {
			return fmt.Errorf("validation failed: duplicate users[%d].toggl_user_id %d", i, user.TogglUserID)
		}
		togglIDs[user.TogglUserID] = struct{}{}

		login := strings.TrimSpace(user.RedmineUsername)
		if login == "" {
			return fmt.Errorf("validation failed: users[%d].redmine_username is required", i)
		}
		if _, exists := logins[login]; exists {
			return fmt.Errorf("validation failed: duplicate users[%d].redmine_username %q", i, login)
		}
		logins[login] = struct{}{}
	}
	return nil
}

func validateMail(mail MailConfig) error {
	if !mail.Enabled {
		return nil
	}
	if strings.TrimSpace(mail.Host) == "" {
		return fmt.Errorf("validation failed: mail.host is required when mail is enabled")
	}
	if strings.TrimSpace(mail.From) == "" || strings.TrimSpace(mail.AdminEmail) == "" {
		return fmt.Errorf("validation failed: mail.from and mail.admin_email are required when mail is enabled")
	}
	return nil
}
