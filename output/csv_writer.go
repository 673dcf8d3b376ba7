package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"tracksync/syncer"
)

type CSVWriter struct{}

// Write stores records as CSV at path, replacing any existing file.
func (w *CSVWriter) Write(path string, records []syncer.Record) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv output %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	return w.Encode(file, records)
}

// Encode writes the header line and one line per record to out.
func (w *CSVWriter) Encode(out io.Writer, records []syncer.Record) error {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, recordHeaders)
	for _, record := range records {
		rows = append(rows, recordRow(record))
	}

	if err := csv.NewWriter(out).WriteAll(rows); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	return nil
}
