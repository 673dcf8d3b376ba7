package timeutil

import (
	"testing"
	"time"
)

func TestSyncWindow_SpansPreviousAndCurrentMonth(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	from, to := SyncWindow(now)

	if want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC); !from.Equal(want) {
		t.Fatalf("expected from %v, got %v", want, from)
	}
	if want := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC); !to.Equal(want) {
		t.Fatalf("expected to %v, got %v", want, to)
	}
}

func TestSyncWindow_January(t *testing.T) {
	t.Parallel()

	from, to := SyncWindow(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	if from.Year() != 2025 || from.Month() != time.December || from.Day() != 1 {
		t.Fatalf("unexpected from: %v", from)
	}
	if to.Month() != time.January || to.Day() != 31 {
		t.Fatalf("unexpected to: %v", to)
	}
}

func TestNextDailyAt(t *testing.T) {
	t.Parallel()

	before := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	if got := NextDailyAt(before, 6, 0); !got.Equal(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected same-day run, got %v", got)
	}

	exact := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	if got := NextDailyAt(exact, 6, 0); !got.Equal(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected next-day run, got %v", got)
	}
}
