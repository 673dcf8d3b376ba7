package syncer

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracksync/reconcile"
	"tracksync/worklog"
)

func TestReportRecords_FlattensOutcomes(t *testing.T) {
	t.Parallel()

	berlin := time.FixedZone("CET", 3600)
	start := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)
	src := worklog.SourceEntry{ID: 1, OwnerID: 11, Description: "Work #5", Start: start, End: start.Add(90 * time.Minute)}
	target := worklog.TargetEntry{ID: 99, IssueID: 5, Hours: decimal.RequireFromString("1"), Comment: "Gone #5 [7]", SpentOn: "2024-03-02"}

	report := Report{
		StartedAt: time.Date(2024, 3, 10, 6, 0, 0, 0, berlin),
		From:      time.Date(2024, 2, 1, 0, 0, 0, 0, berlin),
		Owners: []OwnerRun{
			{User: alice, Outcomes: []reconcile.Outcome{
				reconcile.Success{
					OwnerID:  11,
					Source:   src,
					Proposed: worklog.Payload{IssueID: 5, Hours: decimal.RequireFromString("1.5"), Comment: "Work #5 [1]", SpentOn: "2024-03-05"},
					Action:   reconcile.ActionUpdate,
					Changes:  []reconcile.FieldChange{{Field: "hours", Old: "1.0", New: "1.5"}},
				},
				reconcile.Failure{OwnerID: 11, Source: &src, Message: "missing issue reference", Date: src.Start},
				reconcile.Failure{OwnerID: 11, Target: &target, Message: "orphan", Date: time.Date(2024, 3, 2, 0, 0, 0, 0, berlin)},
			}},
			{User: bob, Err: errors.New("toggl unavailable")},
		},
	}

	records := report.Records()
	require.Len(t, records, 4)

	assert.Equal(t, Record{
		User: "alice", TogglUserID: 11, Status: "update", Origin: OriginToggl, Date: "2024-03-05",
		EntryID: 1, IssueID: 5, Hours: "1.5", Description: "Work #5 [1]", Changes: "hours 1.0 --> 1.5",
	}, records[0])

	assert.Equal(t, StatusError, records[1].Status)
	assert.Equal(t, OriginToggl, records[1].Origin)
	assert.Equal(t, "2024-03-05", records[1].Date, "source failure date uses the run location")

	assert.Equal(t, OriginRedmine, records[2].Origin)
	assert.Equal(t, "2024-03-02", records[2].Date)
	assert.Equal(t, int64(99), records[2].EntryID)

	assert.Equal(t, Record{User: "bob", TogglUserID: 12, Status: StatusError, Origin: OriginRun, Date: "2024-03-10", Message: "toggl unavailable"}, records[3])
}
