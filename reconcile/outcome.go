package reconcile

import (
	"sort"
	"strings"
	"time"

	"tracksync/worklog"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNoop   Action = "nop"
)

// Outcome is either a Success or a Failure.
type Outcome interface {
	// EffectiveDate orders outcomes for reporting.
	EffectiveDate() time.Time
	Owner() int64
	isOutcome()
}

// FieldChange is one differing field between an existing entry and its proposal.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

func (c FieldChange) String() string {
	return c.Field + " " + Arrow(c.Old, c.New)
}

// Arrow renders "old --> new", or just the value when both sides are equal.
func Arrow(before, after string) string {
	if before == after {
		return before
	}
	return before + " --> " + after
}

type Success struct {
	OwnerID  int64
	Source   worklog.SourceEntry
	Issue    worklog.Issue
	Previous *worklog.TargetEntry
	Proposed worklog.Payload
	Action   Action
	Changes  []FieldChange
}

func (s Success) EffectiveDate() time.Time { return s.Source.Start }
func (s Success) Owner() int64             { return s.OwnerID }
func (Success) isOutcome()                 {}

// Diff lists the changed fields, empty for create and nop.
func (s Success) Diff() string {
	parts := make([]string, 0, len(s.Changes))
	for _, change := range s.Changes {
		parts = append(parts, change.String())
	}
	return strings.Join(parts, ", ")
}

// Failure refers to exactly one of Source or Target.
type Failure struct {
	OwnerID int64
	Source  *worklog.SourceEntry
	Target  *worklog.TargetEntry
	Message string
	Date    time.Time
}

func (f Failure) EffectiveDate() time.Time { return f.Date }
func (f Failure) Owner() int64             { return f.OwnerID }
func (Failure) isOutcome()                 {}

func sourceFailure(ownerID int64, src worklog.SourceEntry, message string) Failure {
	return Failure{OwnerID: ownerID, Source: &src, Message: message, Date: src.Start}
}

func targetFailure(ownerID int64, target worklog.TargetEntry, loc *time.Location, message string) Failure {
	failure := Failure{OwnerID: ownerID, Target: &target, Message: message}
	if day, err := worklog.ParseSpentOn(target.SpentOn, loc); err == nil {
		failure.Date = day
	}
	return failure
}

// SortOutcomes orders outcomes by effective date, newest first, keeping
// discovery order for equal dates.
func SortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].EffectiveDate().After(outcomes[j].EffectiveDate())
	})
}

// Partition splits outcomes into successes and failures, preserving order.
func Partition(outcomes []Outcome) ([]Success, []Failure) {
	successes := make([]Success, 0, len(outcomes))
	failures := make([]Failure, 0)
	for _, outcome := range outcomes {
		switch value := outcome.(type) {
		case Success:
			successes = append(successes, value)
		case Failure:
			failures = append(failures, value)
		}
	}
	return successes, failures
}
