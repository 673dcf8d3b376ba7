package syncer

import (
	"time"

	"tracksync/reconcile"
	"tracksync/worklog"
)

// Report aggregates one run over all configured users.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	From       time.Time
	To         time.Time
	DryRun     bool
	Owners     []OwnerRun
}

type Counts struct {
	Created      int `json:"created" yaml:"created"`
	Updated      int `json:"updated" yaml:"updated"`
	Unchanged    int `json:"unchanged" yaml:"unchanged"`
	Failed       int `json:"failed" yaml:"failed"`
	FailedOwners int `json:"failed_users" yaml:"failed_users"`
}

func (r Report) Counts() Counts {
	var counts Counts
	for _, owner := range r.Owners {
		if owner.Err != nil {
			counts.FailedOwners++
		}
		for _, outcome := range owner.Outcomes {
			switch value := outcome.(type) {
			case reconcile.Success:
				switch value.Action {
				case reconcile.ActionCreate:
					counts.Created++
				case reconcile.ActionUpdate:
					counts.Updated++
				default:
					counts.Unchanged++
				}
			case reconcile.Failure:
				counts.Failed++
			}
		}
	}
	return counts
}

// HasErrors reports any failed record or failed user.
func (r Report) HasErrors() bool {
	counts := r.Counts()
	return counts.Failed > 0 || counts.FailedOwners > 0
}

// HasChanges reports any create or update.
func (r Report) HasChanges() bool {
	counts := r.Counts()
	return counts.Created > 0 || counts.Updated > 0
}

const (
	StatusError = "error"

	OriginToggl   = "toggl"
	OriginRedmine = "redmine"
	OriginRun     = "run"
)

// Record is the flat, persisted form of one outcome or one failed user.
type Record struct {
	User        string `json:"user" yaml:"user"`
	TogglUserID int64  `json:"toggl_user_id" yaml:"toggl_user_id"`
	Status      string `json:"status" yaml:"status"`
	Origin      string `json:"origin" yaml:"origin"`
	Date        string `json:"date" yaml:"date"`
	EntryID     int64  `json:"entry_id,omitempty" yaml:"entry_id,omitempty"`
	IssueID     int64  `json:"issue_id,omitempty" yaml:"issue_id,omitempty"`
	Hours       string `json:"hours,omitempty" yaml:"hours,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Changes     string `json:"changes,omitempty" yaml:"changes,omitempty"`
	Message     string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Records flattens the report in user order, each user's outcomes newest first.
func (r Report) Records() []Record {
	loc := r.From.Location()
	records := make([]Record, 0)
	for _, owner := range r.Owners {
		user := owner.User.RedmineUsername
		if owner.Err != nil {
			records = append(records, Record{
				User:        user,
				TogglUserID: owner.User.TogglUserID,
				Status:      StatusError,
				Origin:      OriginRun,
				Date:        r.StartedAt.Format(worklog.DayLayout),
				Message:     owner.Err.Error(),
			})
			continue
		}
		for _, outcome := range owner.Outcomes {
			records = append(records, recordOf(user, owner.User.TogglUserID, outcome, loc))
		}
	}
	return records
}

func recordOf(user string, togglUserID int64, outcome reconcile.Outcome, loc *time.Location) Record {
	record := Record{User: user, TogglUserID: togglUserID}
	switch value := outcome.(type) {
	case reconcile.Success:
		record.Status = string(value.Action)
		record.Origin = OriginToggl
		record.Date = value.Proposed.SpentOn
		record.EntryID = value.Source.ID
		record.IssueID = value.Proposed.IssueID
		record.Hours = worklog.FormatHours(value.Proposed.Hours)
		record.Description = value.Proposed.Comment
		record.Changes = value.Diff()
	case reconcile.Failure:
		record.Status = StatusError
		record.Message = value.Message
		record.Date = value.Date.In(loc).Format(worklog.DayLayout)
		switch {
		case value.Source != nil:
			record.Origin = OriginToggl
			record.EntryID = value.Source.ID
			record.Hours = worklog.FormatHours(value.Source.Hours())
			record.Description = value.Source.Description
		case value.Target != nil:
			record.Origin = OriginRedmine
			record.Date = value.Target.SpentOn
			record.EntryID = value.Target.ID
			record.IssueID = value.Target.IssueID
			record.Hours = worklog.FormatHours(value.Target.Hours)
			record.Description = value.Target.Comment
		}
	}
	return record
}
