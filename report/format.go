package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"tracksync/syncer"
	"tracksync/worklog"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat converts s to a Format. Empty means table.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format %q (valid: table, json, yaml)", s)
	}
}

// Summary is the machine readable form of a run.
type Summary struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	From       string          `json:"from" yaml:"from"`
	To         string          `json:"to" yaml:"to"`
	DryRun     bool            `json:"dry_run" yaml:"dry_run"`
	Counts     syncer.Counts   `json:"counts" yaml:"counts"`
	Records    []syncer.Record `json:"records" yaml:"records"`
}

func Summarize(rep syncer.Report) Summary {
	return Summary{
		RunID:      rep.RunID,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		From:       rep.From.Format(worklog.DayLayout),
		To:         rep.To.Format(worklog.DayLayout),
		DryRun:     rep.DryRun,
		Counts:     rep.Counts(),
		Records:    rep.Records(),
	}
}

// Write renders rep to w in format.
func Write(w io.Writer, rep syncer.Report, format Format) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(Summarize(rep))
	case FormatYAML:
		data, err := yaml.MarshalWithOptions(Summarize(rep), yaml.Indent(2), yaml.IndentSequence(false))
		if err != nil {
			return fmt.Errorf("marshal yaml report: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		if rep.DryRun {
			if _, err := fmt.Fprintln(w, "Dry run: no Redmine entries were written."); err != nil {
				return err
			}
		}
		return WriteText(w, BuildTables(rep.Owners, rep.From.Location()))
	}
}
