package reconcile

import (
	"fmt"
	"time"

	"tracksync/internal/timeutil"
	"tracksync/worklog"
)

// IsFrozen reports whether date lies before the current month of now and the
// grace period after the month start has already elapsed.
func IsFrozen(date, now time.Time, graceDays int) bool {
	windowStart := timeutil.StartOfMonth(now)
	if !now.After(windowStart.AddDate(0, 0, graceDays)) {
		return false
	}
	return date.Before(windowStart)
}

// Policy is the month-end edit freeze applied to creates and updates.
type Policy struct {
	GraceDays int
	// Location is the zone calendar dates are interpreted in. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now().In(p.location())
	}
	return p.Now().In(p.location())
}

// Frozen applies IsFrozen to a YYYY-MM-DD date.
func (p Policy) Frozen(spentOn string) (bool, error) {
	day, err := worklog.ParseSpentOn(spentOn, p.location())
	if err != nil {
		return false, fmt.Errorf("parse date %q: %w", spentOn, err)
	}
	return IsFrozen(day, p.now(), p.GraceDays), nil
}
