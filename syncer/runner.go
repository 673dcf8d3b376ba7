package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"tracksync/config"
	"tracksync/internal/timeutil"
	"tracksync/reconcile"
	"tracksync/worklog"
)

var ErrNoUsers = errors.New("no users configured")

// Source fetches one user's Toggl entries.
type Source interface {
	FetchEntries(ctx context.Context, from, to time.Time) ([]worklog.SourceEntry, error)
}

// Directory resolves Redmine logins to user ids.
type Directory interface {
	LookupUserID(ctx context.Context, login string) (int64, error)
}

type Dependencies struct {
	Directory Directory
	Source    func(user config.User) (Source, error)
	// Target returns a client acting as the user's Redmine login.
	Target func(user config.User) (reconcile.Target, error)
	// Admin performs updates when Options.UpdateAsAdmin is set.
	Admin reconcile.Writer
}

type Options struct {
	GraceDays     int
	UpdateAsAdmin bool
	DryRun        bool
	Location      *time.Location
	Now           func() time.Time
	Logger        *zerolog.Logger
}

// OwnerRun is the result for one configured user. Err is a run-level fault
// that stopped the user's reconciliation; Outcomes is empty then.
type OwnerRun struct {
	User     config.User
	Outcomes []reconcile.Outcome
	Err      error
}

type Runner struct {
	users   []config.User
	deps    Dependencies
	options Options
	logger  zerolog.Logger
}

func NewRunner(users []config.User, deps Dependencies, opts Options) *Runner {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{users: users, deps: deps, options: opts, logger: logger}
}

// Run reconciles every configured user concurrently. Failures of one user never
// affect the others; they are reported in the user's OwnerRun.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if len(r.users) == 0 {
		return Report{}, ErrNoUsers
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	startedAt := r.options.Now().In(r.options.Location)
	from, to := timeutil.SyncWindow(startedAt)
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
		From:      from,
		To:        to,
		DryRun:    r.options.DryRun,
	}
	r.logger.Info().
		Str("run_id", report.RunID).
		Str("from", from.Format(worklog.DayLayout)).
		Str("to", to.Format(worklog.DayLayout)).
		Int("users", len(r.users)).
		Bool("dry_run", r.options.DryRun).
		Msg("starting sync")

	report.Owners = iter.Map(r.users, func(user *config.User) OwnerRun {
		outcomes, err := r.runOwner(ctx, *user, from, to)
		if err != nil {
			r.logger.Error().Err(err).Str("redmine_user", user.RedmineUsername).Msg("sync failed for user")
		}
		return OwnerRun{User: *user, Outcomes: outcomes, Err: err}
	})
	report.FinishedAt = r.options.Now().In(r.options.Location)

	counts := report.Counts()
	r.logger.Info().
		Str("run_id", report.RunID).
		Int("created", counts.Created).
		Int("updated", counts.Updated).
		Int("unchanged", counts.Unchanged).
		Int("failed", counts.Failed).
		Int("failed_users", counts.FailedOwners).
		Msg("sync finished")
	return report, nil
}

func (r *Runner) runOwner(ctx context.Context, user config.User, from, to time.Time) (outcomes []reconcile.Outcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcomes = nil
			err = fmt.Errorf("sync user %s: unexpected failure: %v", user.RedmineUsername, recovered)
		}
	}()

	logger := r.logger.With().Str("redmine_user", user.RedmineUsername).Logger()

	source, err := r.deps.Source(user)
	if err != nil {
		return nil, fmt.Errorf("create toggl client for %s: %w", user.RedmineUsername, err)
	}
	logger.Info().Msg("querying toggl data")
	entries, err := source.FetchEntries(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch toggl entries for %s: %w", user.RedmineUsername, err)
	}
	logger.Info().Int("count", len(entries)).Msg("acquired toggl entries")

	targetUserID, err := r.deps.Directory.LookupUserID(ctx, user.RedmineUsername)
	if err != nil {
		return nil, fmt.Errorf("resolve redmine user %s: %w", user.RedmineUsername, err)
	}

	target, err := r.deps.Target(user)
	if err != nil {
		return nil, fmt.Errorf("create redmine client for %s: %w", user.RedmineUsername, err)
	}

	var updater reconcile.Writer
	if r.options.UpdateAsAdmin && r.deps.Admin != nil {
		updater = r.deps.Admin
	}
	service := reconcile.NewService(target, reconcile.Options{
		Policy: reconcile.Policy{
			GraceDays: r.options.GraceDays,
			Location:  r.options.Location,
			Now:       r.options.Now,
		},
		From:    from,
		To:      to,
		Updater: updater,
		DryRun:  r.options.DryRun,
		Logger:  &logger,
	})

	owner := reconcile.Owner{
		SourceUserID: user.TogglUserID,
		TargetUserID: targetUserID,
		TargetLogin:  user.RedmineUsername,
	}
	outcomes, err = service.Reconcile(ctx, owner, entries)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", user.RedmineUsername, err)
	}
	return outcomes, nil
}
