package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"tracksync/reconcile"
	"tracksync/syncer"
	"tracksync/worklog"
)

var (
	nopHeaders    = []string{"user", "date", "#", "h", "description"}
	changeHeaders = []string{"action", "user", "date", "#", "h", "description"}
	errorHeaders  = []string{"user", "date / type", "description", "error message"}
)

// Tables holds the three report sections of one run.
type Tables struct {
	Nop     [][]string
	Changes [][]string
	Errors  [][]string
}

// Empty reports whether there is nothing worth mailing.
func (t Tables) Empty() bool {
	return len(t.Changes) == 0 && len(t.Errors) == 0
}

// BuildTables splits the outcomes of owners into report sections. Dates of
// Toggl failures are rendered in loc.
func BuildTables(owners []syncer.OwnerRun, loc *time.Location) Tables {
	if loc == nil {
		loc = time.Local
	}
	tables := Tables{
		Nop:     make([][]string, 0),
		Changes: make([][]string, 0),
		Errors:  make([][]string, 0),
	}
	for _, owner := range owners {
		user := owner.User.RedmineUsername
		if owner.Err != nil {
			tables.Errors = append(tables.Errors, []string{user, "fatal", "", quote(owner.Err.Error())})
			continue
		}
		successes, failures := reconcile.Partition(owner.Outcomes)
		for _, success := range successes {
			if success.Action == reconcile.ActionNoop {
				tables.Nop = append(tables.Nop, nopRow(user, success))
				continue
			}
			tables.Changes = append(tables.Changes, changeRow(user, success))
		}
		for _, failure := range failures {
			tables.Errors = append(tables.Errors, errorRow(user, failure, loc))
		}
	}
	return tables
}

func nopRow(user string, success reconcile.Success) []string {
	return []string{
		user,
		success.Proposed.SpentOn,
		strconv.FormatInt(success.Proposed.IssueID, 10),
		worklog.FormatHours(success.Proposed.Hours),
		quote(success.Proposed.Comment),
	}
}

func changeRow(user string, success reconcile.Success) []string {
	proposed := success.Proposed
	if success.Action != reconcile.ActionUpdate || success.Previous == nil {
		return []string{
			string(success.Action),
			user,
			proposed.SpentOn,
			strconv.FormatInt(proposed.IssueID, 10),
			worklog.FormatHours(proposed.Hours),
			quote(proposed.Comment),
		}
	}
	previous := success.Previous
	return []string{
		string(success.Action),
		user,
		reconcile.Arrow(previous.SpentOn, proposed.SpentOn),
		reconcile.Arrow(strconv.FormatInt(previous.IssueID, 10), strconv.FormatInt(proposed.IssueID, 10)),
		reconcile.Arrow(worklog.FormatHours(previous.Hours), worklog.FormatHours(proposed.Hours)),
		reconcile.Arrow(previous.Comment, proposed.Comment),
	}
}

func errorRow(user string, failure reconcile.Failure, loc *time.Location) []string {
	switch {
	case failure.Source != nil:
		return []string{
			user,
			failure.Source.Start.In(loc).Format(worklog.DayLayout) + " →",
			quote(failure.Source.Description),
			quote(failure.Message),
		}
	case failure.Target != nil:
		return []string{
			user,
			"← " + failure.Target.SpentOn,
			quote(failure.Target.Comment),
			quote(failure.Message),
		}
	default:
		return []string{user, failure.Date.In(loc).Format(worklog.DayLayout), "", quote(failure.Message)}
	}
}

func quote(value string) string {
	return "'" + value + "'"
}

// WriteText renders all three sections the way the console report shows them.
func WriteText(w io.Writer, tables Tables) error {
	sections := []struct {
		title   string
		headers []string
		rows    [][]string
	}{
		{title: "Successfully checked (nop):", headers: nopHeaders, rows: tables.Nop},
		{title: "Successfully synced (create/update):", headers: changeHeaders, rows: tables.Changes},
		{title: "Failed to sync:", headers: errorHeaders, rows: tables.Errors},
	}
	for _, section := range sections {
		if _, err := fmt.Fprintln(w, section.title); err != nil {
			return err
		}
		if err := renderTable(w, section.headers, section.rows); err != nil {
			return fmt.Errorf("render %q: %w", section.title, err)
		}
	}
	return nil
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewTable(w)

	headerCells := make([]any, len(headers))
	for i, header := range headers {
		headerCells[i] = header
	}
	table.Header(headerCells...)

	for _, row := range rows {
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}
