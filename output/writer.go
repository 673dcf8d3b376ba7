package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"tracksync/syncer"
)

type Writer interface {
	Write(path string, records []syncer.Record) error
}

// StreamWriter is implemented by writers that can encode without a file.
type StreamWriter interface {
	Encode(out io.Writer, records []syncer.Record) error
}

var recordHeaders = []string{"User", "TogglUserID", "Status", "Origin", "Date", "EntryID", "IssueID", "Hours", "Description", "Changes", "Message"}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func recordRow(record syncer.Record) []string {
	return []string{
		record.User,
		strconv.FormatInt(record.TogglUserID, 10),
		record.Status,
		record.Origin,
		record.Date,
		optionalID(record.EntryID),
		optionalID(record.IssueID),
		record.Hours,
		record.Description,
		record.Changes,
		record.Message,
	}
}

func optionalID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
