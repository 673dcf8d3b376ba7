package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tracksync/config"
	"tracksync/reconcile"
	"tracksync/syncer"
	"tracksync/worklog"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "tracksync_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReport(id string, startedAt time.Time) syncer.Report {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	src := worklog.SourceEntry{ID: 1, OwnerID: 11, Description: "Work #5", Start: start, End: start.Add(time.Hour)}
	return syncer.Report{
		RunID:      id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(3 * time.Second),
		From:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		DryRun:     true,
		Owners: []syncer.OwnerRun{
			{User: config.User{TogglUserID: 11, RedmineUsername: "alice"}, Outcomes: []reconcile.Outcome{
				reconcile.Success{
					OwnerID:  11,
					Source:   src,
					Proposed: worklog.Payload{IssueID: 5, ProjectID: 1, Hours: decimal.RequireFromString("1"), Comment: "Work #5 [1]", SpentOn: "2024-03-04"},
					Action:   reconcile.ActionCreate,
				},
				reconcile.Failure{OwnerID: 11, Source: &src, Message: "boom", Date: src.Start},
			}},
			{User: config.User{TogglUserID: 12, RedmineUsername: "bob"}, Err: errors.New("toggl unavailable")},
		},
	}
}

func TestSQLiteStore_SaveAndListRun(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	startedAt := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	if err := store.SaveRun(testReport("run-1", startedAt)); err != nil {
		t.Fatalf("save run: %v", err)
	}

	run, found, err := store.GetRun("run-1")
	if err != nil || !found {
		t.Fatalf("get run: found=%v err=%v", found, err)
	}
	if !run.StartedAt.Equal(startedAt) || run.From != "2024-02-01" || run.To != "2024-03-31" || !run.DryRun {
		t.Fatalf("unexpected run %+v", run)
	}
	want := syncer.Counts{Created: 1, Failed: 1, FailedOwners: 1}
	if run.Counts != want {
		t.Fatalf("unexpected counts %+v", run.Counts)
	}

	records, err := store.ListRecords("run-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Status != "create" || records[0].Description != "Work #5 [1]" || records[0].Hours != "1.0" {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[2].User != "bob" || records[2].Origin != syncer.OriginRun || records[2].Message != "toggl unavailable" {
		t.Fatalf("unexpected run failure record %+v", records[2])
	}
}

func TestSQLiteStore_ListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	base := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.SaveRun(testReport(id, base.AddDate(0, 0, i))); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	latest, found, err := store.LatestRun()
	if err != nil || !found || latest.ID != "c" {
		t.Fatalf("unexpected latest run %+v found=%v err=%v", latest, found, err)
	}
}

func TestSQLiteStore_DeleteRuns(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	base := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.SaveRun(testReport(id, base.AddDate(0, 0, i*10))); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}

	deleted, err := store.DeleteRun("mid")
	if err != nil || !deleted {
		t.Fatalf("delete run: deleted=%v err=%v", deleted, err)
	}
	records, err := store.ListRecords("mid")
	if err != nil || len(records) != 0 {
		t.Fatalf("expected records removed, got %d, %v", len(records), err)
	}
	deleted, err = store.DeleteRun("missing")
	if err != nil || deleted {
		t.Fatalf("expected no-op delete, got deleted=%v err=%v", deleted, err)
	}

	removed, err := store.DeleteRunsBefore(base.AddDate(0, 0, 15))
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d, %v", removed, err)
	}
	runs, err := store.ListRuns(0)
	if err != nil || len(runs) != 1 || runs[0].ID != "new" {
		t.Fatalf("unexpected remaining runs %+v, %v", runs, err)
	}
}

func TestSQLiteStore_RejectsDuplicateRun(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	now := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	if err := store.SaveRun(testReport("dup", now)); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveRun(testReport("dup", now)); err == nil {
		t.Fatalf("expected duplicate run id error")
	}
	records, err := store.ListRecords("dup")
	if err != nil || len(records) != 3 {
		t.Fatalf("failed save must not add records, got %d, %v", len(records), err)
	}
	if _, found, err := store.GetRun("nope"); err != nil || found {
		t.Fatalf("expected missing run, found=%v err=%v", found, err)
	}
}
