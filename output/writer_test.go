package output

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"tracksync/syncer"
)

var testRecords = []syncer.Record{
	{User: "alice", TogglUserID: 11, Status: "update", Origin: "toggl", Date: "2024-03-04", EntryID: 1001, IssueID: 42, Hours: "2.5", Description: "Feature #42 [1001]", Changes: "hours 2.0 --> 2.5"},
	{User: "bob", TogglUserID: 12, Status: "error", Origin: "run", Date: "2024-03-10", Message: "toggl unavailable"},
}

func TestCSVWriter_WritesRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.csv")
	writer, err := WriterForFormat(" CSV ")
	if err != nil {
		t.Fatalf("writer for format: %v", err)
	}
	if err := writer.Write(path, testRecords); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "User" || rows[1][7] != "2.5" || rows[1][9] != "hours 2.0 --> 2.5" {
		t.Fatalf("unexpected csv rows %v", rows[:2])
	}
	if rows[2][5] != "" || rows[2][10] != "toggl unavailable" {
		t.Fatalf("unexpected failure row %v", rows[2])
	}
}

func TestExcelWriter_WritesRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.xlsx")
	writer, err := WriterForFormat("xlsx")
	if err != nil {
		t.Fatalf("writer for format: %v", err)
	}
	if err := writer.Write(path, testRecords); err != nil {
		t.Fatalf("write excel: %v", err)
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open excel: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows("Sync")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1][0] != "alice" || rows[1][7] != "2.5" {
		t.Fatalf("unexpected excel row %v", rows[1])
	}
}

func TestWriterForFormat_RejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := WriterForFormat("pdf"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestCSVWriter_EncodeStreams(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := (&CSVWriter{}).Encode(&buf, testRecords[:1]); err != nil {
		t.Fatalf("encode csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "User,TogglUserID,Status") {
		t.Fatalf("unexpected csv output %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "alice,11,update,toggl,2024-03-04,1001,42,2.5,") {
		t.Fatalf("unexpected csv row %q", lines[1])
	}
}
