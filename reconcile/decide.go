package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tracksync/worklog"
)

var (
	ErrIssueNotFound = errors.New("no matching Redmine issue")
	ErrCreateExpired = errors.New("last month sync period expired, skipped creating entry")
	ErrUpdateExpired = errors.New("last month sync period expired, skipped updating entry")
)

// Proposal is the decision for one Toggl entry before any write is issued.
type Proposal struct {
	Action   Action
	Issue    worklog.Issue
	Previous *worklog.TargetEntry
	Payload  worklog.Payload
	Changes  []FieldChange
}

// Plan decides what to do for src without touching Redmine. candidates are the
// owner's Redmine entries in the sync window; issues are keyed by id.
func Plan(src worklog.SourceEntry, issues map[int64]worklog.Issue, candidates []worklog.TargetEntry, policy Policy) (Proposal, error) {
	issueID, err := ExtractReference(src.Description)
	if err != nil {
		return Proposal{}, err
	}

	issue, ok := issues[issueID]
	if !ok {
		return Proposal{}, fmt.Errorf("%w #%d", ErrIssueNotFound, issueID)
	}

	payload := worklog.Payload{
		IssueID:   issue.ID,
		ProjectID: issue.ProjectID,
		Hours:     src.Hours(),
		Comment:   TaggedComment(src.Description, src.ID),
		SpentOn:   src.SpentOn(policy.location()),
	}

	existing, err := FindMatch(src, candidates)
	if err != nil {
		return Proposal{}, err
	}

	if existing == nil {
		frozen, err := policy.Frozen(payload.SpentOn)
		if err != nil {
			return Proposal{}, err
		}
		if frozen {
			return Proposal{}, ErrCreateExpired
		}
		return Proposal{Action: ActionCreate, Issue: issue, Payload: payload}, nil
	}

	changes := diffEntry(*existing, payload)
	if len(changes) == 0 {
		return Proposal{Action: ActionNoop, Issue: issue, Previous: existing, Payload: payload}, nil
	}

	existingFrozen, err := policy.Frozen(existing.SpentOn)
	if err != nil {
		return Proposal{}, err
	}
	proposedFrozen, err := policy.Frozen(payload.SpentOn)
	if err != nil {
		return Proposal{}, err
	}
	if existingFrozen || proposedFrozen {
		return Proposal{}, fmt.Errorf("%w, attempted update: %s", ErrUpdateExpired, describeChanges(changes))
	}

	return Proposal{
		Action:   ActionUpdate,
		Issue:    issue,
		Previous: existing,
		Payload:  payload,
		Changes:  changes,
	}, nil
}

func diffEntry(existing worklog.TargetEntry, proposed worklog.Payload) []FieldChange {
	changes := make([]FieldChange, 0, 5)
	add := func(field, before, after string) {
		if before != after {
			changes = append(changes, FieldChange{Field: field, Old: before, New: after})
		}
	}

	add("date", existing.SpentOn, proposed.SpentOn)
	add("issue", formatID(existing.IssueID), formatID(proposed.IssueID))
	add("project", formatID(existing.ProjectID), formatID(proposed.ProjectID))
	if !existing.Hours.Equal(proposed.Hours) {
		changes = append(changes, FieldChange{
			Field: "hours",
			Old:   worklog.FormatHours(existing.Hours),
			New:   worklog.FormatHours(proposed.Hours),
		})
	}
	add("comment", existing.Comment, proposed.Comment)
	return changes
}

func describeChanges(changes []FieldChange) string {
	parts := make([]string, 0, len(changes))
	for _, change := range changes {
		parts = append(parts, change.String())
	}
	return strings.Join(parts, ", ")
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
