package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tracksync/worklog"
)

func TestFindMatch_Arity(t *testing.T) {
	t.Parallel()

	src := worklog.SourceEntry{ID: 55}
	candidates := []worklog.TargetEntry{
		{ID: 1, Comment: "work [54]"},
		{ID: 2, Comment: "work [55]"},
		{ID: 3, Comment: "work [155]"},
	}

	match, err := FindMatch(src, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil || match.ID != 2 {
		t.Fatalf("expected candidate 2, got %#v", match)
	}

	match, err = FindMatch(worklog.SourceEntry{ID: 56}, candidates)
	if err != nil || match != nil {
		t.Fatalf("expected no match, got %#v, %v", match, err)
	}

	candidates = append(candidates, worklog.TargetEntry{ID: 4, Comment: "duplicate [55]"})
	if _, err := FindMatch(src, candidates); !errors.Is(err, ErrAmbiguousMatch) {
		t.Fatalf("expected ambiguous match, got %v", err)
	}
}

func TestPlan_DiffListsEveryChangedField(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	policy := Policy{GraceDays: 5, Location: time.UTC, Now: func() time.Time { return now }}
	src := worklog.SourceEntry{
		ID:          7,
		OwnerID:     1,
		Description: "Moved #12",
		Start:       time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 8, 10, 15, 0, 0, time.UTC),
	}
	existing := worklog.TargetEntry{
		ID: 300, IssueID: 11, ProjectID: 2, UserID: 4,
		Hours: decimal.RequireFromString("1.25"), Comment: "Old text [7]", SpentOn: "2024-03-07",
	}
	issues := map[int64]worklog.Issue{12: {ID: 12, ProjectID: 3}}

	proposal, err := Plan(src, issues, []worklog.TargetEntry{existing}, policy)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if proposal.Action != ActionUpdate {
		t.Fatalf("expected update, got %s", proposal.Action)
	}
	got := Success{Changes: proposal.Changes}.Diff()
	want := "date 2024-03-07 --> 2024-03-08, issue 11 --> 12, project 2 --> 3, comment Old text [7] --> Moved #12 [7]"
	if got != want {
		t.Fatalf("unexpected diff\nwant %s\n got %s", want, got)
	}
}

func TestPlan_UpdateFrozenWhenEitherDateIsFrozen(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)
	policy := Policy{GraceDays: 5, Location: time.UTC, Now: func() time.Time { return now }}
	src := worklog.SourceEntry{
		ID:          8,
		Description: "Moved forward #12",
		Start:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	existing := worklog.TargetEntry{
		ID: 301, IssueID: 12, ProjectID: 3,
		Hours: decimal.RequireFromString("1"), Comment: "Moved forward #12 [8]", SpentOn: "2024-02-29",
	}
	issues := map[int64]worklog.Issue{12: {ID: 12, ProjectID: 3}}

	_, err := Plan(src, issues, []worklog.TargetEntry{existing}, policy)
	if !errors.Is(err, ErrUpdateExpired) {
		t.Fatalf("expected update expired, got %v", err)
	}
}
