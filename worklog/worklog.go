package worklog

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the calendar date format used by Redmine's spent_on field.
const DayLayout = "2006-01-02"

// SourceEntry is one Toggl time entry. It is never modified by this program.
type SourceEntry struct {
	ID          int64
	OwnerID     int64
	Description string
	Start       time.Time
	End         time.Time
}

// Issue is a Redmine issue referenced from a source description.
type Issue struct {
	ID        int64
	ProjectID int64
	Subject   string
}

// TargetEntry is one Redmine time entry.
type TargetEntry struct {
	ID        int64
	IssueID   int64
	ProjectID int64
	UserID    int64
	Hours     decimal.Decimal
	Comment   string
	SpentOn   string
}

// Payload is the normalized create/update body proposed for a Redmine time entry.
type Payload struct {
	IssueID   int64
	ProjectID int64
	Hours     decimal.Decimal
	Comment   string
	SpentOn   string
}

// Hours returns the entry duration in hours, rounded to two decimal places
// (half away from zero).
func (e SourceEntry) Hours() decimal.Decimal {
	millis := e.End.Sub(e.Start).Milliseconds()
	return decimal.NewFromInt(millis).Div(decimal.NewFromInt(int64(time.Hour / time.Millisecond))).Round(2)
}

// SpentOn returns the start date of the entry in loc as YYYY-MM-DD.
func (e SourceEntry) SpentOn(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return e.Start.In(loc).Format(DayLayout)
}

// ParseSpentOn parses a YYYY-MM-DD calendar date in loc.
func ParseSpentOn(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DayLayout, value, loc)
}

// FormatHours renders hours with at least one decimal place ("2.0", "2.5", "2.25").
func FormatHours(hours decimal.Decimal) string {
	if hours.Equal(hours.Truncate(0)) {
		return hours.StringFixed(1)
	}
	return hours.String()
}
