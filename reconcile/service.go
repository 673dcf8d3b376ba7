package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"tracksync/worklog"
)

var ErrOwnerMismatch = errors.New("toggl entry owner does not match the processed user")

// Writer issues Redmine time entry writes.
type Writer interface {
	CreateTimeEntry(ctx context.Context, payload worklog.Payload) error
	UpdateTimeEntry(ctx context.Context, id int64, payload worklog.Payload) error
}

// Target is the Redmine side of a reconciliation, scoped to one user.
type Target interface {
	Writer
	ListIssues(ctx context.Context, ids []int64) ([]worklog.Issue, error)
	ListTimeEntries(ctx context.Context, userID int64, from, to time.Time) ([]worklog.TargetEntry, error)
}

// Owner identifies the user being reconciled on both sides.
type Owner struct {
	SourceUserID int64
	TargetUserID int64
	TargetLogin  string
}

type Options struct {
	Policy Policy
	// From and To bound the Redmine time entry query (inclusive days).
	From time.Time
	To   time.Time
	// Updater overrides the writer used for updates, e.g. an admin client.
	Updater Writer
	DryRun  bool
	Logger  *zerolog.Logger
}

type Service struct {
	target  Target
	updater Writer
	policy  Policy
	from    time.Time
	to      time.Time
	dryRun  bool
	logger  zerolog.Logger
}

func NewService(target Target, opts Options) *Service {
	updater := opts.Updater
	if updater == nil {
		updater = target
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Service{
		target:  target,
		updater: updater,
		policy:  opts.Policy,
		from:    opts.From,
		to:      opts.To,
		dryRun:  opts.DryRun,
		logger:  logger,
	}
}

// Reconcile syncs one user's Toggl entries into Redmine and reports every
// decision, newest first. Only run-level faults are returned as errors.
func (s *Service) Reconcile(ctx context.Context, owner Owner, entries []worklog.SourceEntry) ([]Outcome, error) {
	for _, entry := range entries {
		if entry.OwnerID != owner.SourceUserID {
			return nil, fmt.Errorf("%w: entry %d belongs to user %d, expected %d", ErrOwnerMismatch, entry.ID, entry.OwnerID, owner.SourceUserID)
		}
	}

	logger := s.logger.With().Str("redmine_user", owner.TargetLogin).Logger()
	active := FilterIgnored(entries)
	if skipped := len(entries) - len(active); skipped > 0 {
		logger.Info().Int("count", skipped).Msg("skipping entries marked " + IgnoreMarker)
	}

	issueIDs := ReferencedIssues(active)
	issues := make(map[int64]worklog.Issue, len(issueIDs))
	if len(issueIDs) > 0 {
		logger.Info().Int("count", len(issueIDs)).Msg("querying redmine issues")
		list, err := s.target.ListIssues(ctx, issueIDs)
		if err != nil {
			return nil, fmt.Errorf("list redmine issues: %w", err)
		}
		for _, issue := range list {
			issues[issue.ID] = issue
		}
		logger.Info().Int("count", len(issues)).Msg("acquired redmine issues")
	}

	logger.Info().Msg("querying redmine time entries")
	targets, err := s.target.ListTimeEntries(ctx, owner.TargetUserID, s.from, s.to)
	if err != nil {
		return nil, fmt.Errorf("list redmine time entries: %w", err)
	}
	owned := make([]worklog.TargetEntry, 0, len(targets))
	for _, target := range targets {
		if target.UserID == owner.TargetUserID {
			owned = append(owned, target)
		}
	}
	logger.Info().Int("count", len(owned)).Msg("acquired redmine time entries")

	decided := iter.Map(active, func(src *worklog.SourceEntry) Outcome {
		return s.Decide(ctx, owner, *src, issues, owned)
	})
	orphans := FindOrphans(owner.SourceUserID, owned, active, s.policy.location())

	outcomes := make([]Outcome, 0, len(decided)+len(orphans))
	outcomes = append(outcomes, decided...)
	for _, orphan := range orphans {
		outcomes = append(outcomes, orphan)
	}
	SortOutcomes(outcomes)
	return outcomes, nil
}

// Decide plans src and issues the resulting write. Every error, including a
// panic, becomes a Failure for src.
func (s *Service) Decide(ctx context.Context, owner Owner, src worklog.SourceEntry, issues map[int64]worklog.Issue, candidates []worklog.TargetEntry) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = sourceFailure(owner.SourceUserID, src, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	proposal, err := Plan(src, issues, candidates, s.policy)
	if err != nil {
		return sourceFailure(owner.SourceUserID, src, err.Error())
	}

	if !s.dryRun {
		switch proposal.Action {
		case ActionCreate:
			s.logger.Info().Int64("toggl_entry", src.ID).Str("comment", proposal.Payload.Comment).Msg("creating redmine time entry")
			if err := s.target.CreateTimeEntry(ctx, proposal.Payload); err != nil {
				s.logger.Error().Err(err).Int64("toggl_entry", src.ID).Msg("create redmine time entry failed")
				return sourceFailure(owner.SourceUserID, src, fmt.Sprintf("create redmine time entry: %v", err))
			}
		case ActionUpdate:
			s.logger.Info().Int64("toggl_entry", src.ID).Int64("redmine_entry", proposal.Previous.ID).Msg("updating redmine time entry")
			if err := s.updater.UpdateTimeEntry(ctx, proposal.Previous.ID, proposal.Payload); err != nil {
				s.logger.Error().Err(err).Int64("redmine_entry", proposal.Previous.ID).Msg("update redmine time entry failed")
				return sourceFailure(owner.SourceUserID, src, fmt.Sprintf("update redmine time entry %d: %v", proposal.Previous.ID, err))
			}
		}
	}

	return Success{
		OwnerID:  owner.SourceUserID,
		Source:   src,
		Issue:    proposal.Issue,
		Previous: proposal.Previous,
		Proposed: proposal.Payload,
		Action:   proposal.Action,
		Changes:  proposal.Changes,
	}
}
