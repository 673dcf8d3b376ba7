package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tracksync/config"
	"tracksync/internal/logging"
	"tracksync/reconcile"
	"tracksync/redmine"
	"tracksync/report"
	"tracksync/storage"
	"tracksync/syncer"
	"tracksync/toggl"
)

var (
	syncDryRun   bool
	syncDBPath   string
	syncFormat   string
	syncNoMail   bool
	syncNoStore  bool
	syncDaily    bool
	syncDailyAt  string
	syncLockFile string
	syncTimeout  time.Duration
)

var errSyncLocked = errors.New("another sync is already running")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync Toggl time entries of all configured users into Redmine",
	Long: `Fetch the Toggl time entries of every configured user from the start of the
previous month to the end of the current month and reconcile them with Redmine.

For each Toggl entry the command:
- resolves the Redmine issue from exactly one "#<issue id>" in the description
- creates a Redmine time entry when none carries the "[<toggl id>]" tag yet
- updates the tagged Redmine entry when date, issue, project, hours or comment differ
- skips entries whose description contains "#ignore"

Entries of the previous month are frozen once the current month is older than
sync.last_month_sync_expiry_days. Tagged Redmine entries without a Toggl entry are
reported but never deleted.

In --dry-run mode all decisions are computed and reported, but nothing is written
to Redmine and no mails are sent.`,
	Example: `
  # Preview without writing to Redmine
  tracksync sync --dry-run

  # Sync once, print a JSON summary, skip mails
  tracksync sync --format json --no-mail

  # Sync now and then daily at 06:30
  tracksync sync --daily --daily-at 06:30
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}

		format, err := report.ParseFormat(syncFormat)
		if err != nil {
			return err
		}

		logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Dir: cfg.Logging.Dir})
		if err != nil {
			return err
		}
		defer logger.Close()

		lock, err := acquireSyncLock(syncLockFile)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		var store *storage.SQLiteStore
		if !syncNoStore {
			store, err = storage.OpenSQLite(syncDBPath)
			if err != nil {
				return err
			}
			defer store.Close()
		}

		session, err := newSyncSession(cfg, syncSessionOptions{
			DryRun: syncDryRun,
			NoMail: syncNoMail,
			Format: format,
			Out:    cmd.OutOrStdout(),
			Store:  store,
			Logger: &logger.Logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !syncDaily {
			return session.runOnce(ctx, syncTimeout)
		}

		dailyAt := cfg.Sync.DailyAt
		if strings.TrimSpace(syncDailyAt) != "" {
			dailyAt = syncDailyAt
		}
		hour, minute, err := config.ParseClock(dailyAt)
		if err != nil {
			return err
		}
		err = syncer.Daily(ctx, hour, minute, session.location, logger.Logger, func(ctx context.Context) error {
			return session.runOnce(ctx, syncTimeout)
		})
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("scheduler stopped")
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Compute and report decisions without writing to Redmine")
	syncCmd.Flags().StringVar(&syncDBPath, "db", "./tracksync.db", "Path to local SQLite run history")
	syncCmd.Flags().StringVarP(&syncFormat, "format", "f", "table", "Report format: table|json|yaml")
	syncCmd.Flags().BoolVar(&syncNoMail, "no-mail", false, "Do not send report mails even if mail is enabled")
	syncCmd.Flags().BoolVar(&syncNoStore, "no-store", false, "Do not store the run in the local history")
	syncCmd.Flags().BoolVar(&syncDaily, "daily", false, "Run now and then every day at sync.daily_at")
	syncCmd.Flags().StringVar(&syncDailyAt, "daily-at", "", "Override sync.daily_at for --daily, format HH:MM")
	syncCmd.Flags().StringVar(&syncLockFile, "lock-file", "", "Lock file preventing concurrent syncs (default: <db>.lock)")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 15*time.Minute, "Timeout for one sync run (0 disables)")
}

func acquireSyncLock(path string) (*flock.Flock, error) {
	if strings.TrimSpace(path) == "" {
		path = syncDBPath + ".lock"
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", errSyncLocked, path)
	}
	return lock, nil
}

type syncSessionOptions struct {
	DryRun bool
	NoMail bool
	Format report.Format
	Out    io.Writer
	// Store is optional; runs are not persisted without it.
	Store  *storage.SQLiteStore
	Logger *zerolog.Logger
	// Mail overrides the SMTP sender, mainly for tests.
	Mail report.Sender
}

// syncSession runs the sync and handles its report: console output, history
// and mails.
type syncSession struct {
	runner   *syncer.Runner
	mailer   *report.Mailer
	store    *storage.SQLiteStore
	format   report.Format
	out      io.Writer
	location *time.Location
	logger   zerolog.Logger
}

func newSyncSession(cfg *config.Config, opts syncSessionOptions) (*syncSession, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	runner, err := buildRunner(cfg, loc, opts.DryRun, &logger)
	if err != nil {
		return nil, err
	}

	session := &syncSession{
		runner:   runner,
		store:    opts.Store,
		format:   opts.Format,
		out:      opts.Out,
		location: loc,
		logger:   logger,
	}
	if session.out == nil {
		session.out = io.Discard
	}

	if cfg.Mail.Enabled && !opts.NoMail && !opts.DryRun {
		sender := opts.Mail
		if sender == nil {
			client, err := report.NewSMTPSender(cfg.Mail)
			if err != nil {
				return nil, err
			}
			sender = client
		}
		session.mailer = report.NewMailer(sender, report.MailerConfig{
			From:       cfg.Mail.From,
			AdminEmail: cfg.Mail.AdminEmail,
			Logger:     &logger,
		})
	}
	return session, nil
}

// buildRunner wires the Toggl and Redmine clients for every configured user.
// All Toggl clients share one rate limiter and all Redmine clients one user cache.
func buildRunner(cfg *config.Config, loc *time.Location, dryRun bool, logger *zerolog.Logger) (*syncer.Runner, error) {
	admin, err := redmine.NewClient(redmine.ClientConfig{
		BaseURL:    cfg.Redmine.URL,
		APIToken:   cfg.Redmine.APIToken,
		ActivityID: cfg.Redmine.ActivityID,
		Users:      redmine.NewUserCache(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	limiter := toggl.NewLimiter(toggl.DefaultInterval)

	deps := syncer.Dependencies{
		Directory: admin,
		Source: func(user config.User) (syncer.Source, error) {
			return toggl.NewClient(toggl.ClientConfig{
				BaseURL:     cfg.Toggl.URL,
				APIToken:    user.TogglAPIToken,
				WorkspaceID: user.TogglWorkspaceID,
				UserID:      user.TogglUserID,
				Limiter:     limiter,
				Logger:      logger,
			})
		},
		Target: func(user config.User) (reconcile.Target, error) {
			return admin.Impersonate(user.RedmineUsername), nil
		},
		Admin: admin,
	}

	return syncer.NewRunner(cfg.Users, deps, syncer.Options{
		GraceDays:     cfg.Sync.LastMonthSyncExpiryDays,
		UpdateAsAdmin: cfg.Sync.UpdateEntriesAsAdmin,
		DryRun:        dryRun,
		Location:      loc,
		Logger:        logger,
	}), nil
}

// run executes one sync and stores the run. It neither prints nor mails.
func (s *syncSession) run(ctx context.Context, timeout time.Duration) (syncer.Report, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rep, err := s.runner.Run(ctx)
	if err != nil {
		return syncer.Report{}, err
	}
	if s.store != nil {
		if err := s.store.SaveRun(rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (s *syncSession) runOnce(ctx context.Context, timeout time.Duration) error {
	rep, err := s.run(ctx, timeout)
	if err != nil && rep.RunID == "" {
		s.notifyFatal(ctx, err)
		return err
	}
	if writeErr := report.Write(s.out, rep, s.format); writeErr != nil {
		return fmt.Errorf("write report: %w", writeErr)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", rep.RunID).Msg("store sync run failed")
	}

	if s.mailer != nil {
		if mailErr := s.mailer.SendReports(ctx, rep); mailErr != nil {
			s.logger.Error().Err(mailErr).Msg("sending report mails failed")
		}
	}
	return err
}

func (s *syncSession) notifyFatal(ctx context.Context, cause error) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendFatal(context.WithoutCancel(ctx), cause); err != nil {
		s.logger.Error().Err(err).Msg("sending fatal error mail failed")
	}
}
