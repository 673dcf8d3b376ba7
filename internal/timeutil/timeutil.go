package timeutil

import "time"

func StartOfMonth(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), 1, 0, 0, 0, 0, value.Location())
}

// EndOfMonth returns the last calendar day of value's month at midnight.
func EndOfMonth(value time.Time) time.Time {
	return StartOfMonth(value).AddDate(0, 1, -1)
}

// SyncWindow returns the inclusive day range reconciled by one run: from the
// first day of the previous month to the last day of the current month.
func SyncWindow(now time.Time) (time.Time, time.Time) {
	start := StartOfMonth(now).AddDate(0, -1, 0)
	return start, EndOfMonth(now)
}

// NextDailyAt returns the first point strictly after now at hour:minute.
func NextDailyAt(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
