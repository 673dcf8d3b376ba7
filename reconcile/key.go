package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"tracksync/worklog"
)

// IgnoreMarker excludes a Toggl entry from reconciliation when present in its description.
const IgnoreMarker = "#ignore"

var (
	referencePattern = regexp.MustCompile(`#[0-9]+`)
	tagSuffixPattern = regexp.MustCompile(`\[[0-9]+\]$`)
)

var (
	ErrMissingReference   = errors.New("missing issue reference")
	ErrAmbiguousReference = errors.New("ambiguous issue reference")
)

// ExtractReference returns the issue id of the single "#<digits>" reference in text.
// Zero or several references are errors; the caller never guesses.
func ExtractReference(text string) (int64, error) {
	matches := referencePattern.FindAllString(text, -1)
	switch len(matches) {
	case 0:
		return 0, ErrMissingReference
	case 1:
		id, err := strconv.ParseInt(strings.TrimPrefix(matches[0], "#"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse issue reference %q: %w", matches[0], err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("%w (%s)", ErrAmbiguousReference, strings.Join(matches, ", "))
	}
}

// CorrelationTag is the suffix linking a Redmine comment to its Toggl entry.
func CorrelationTag(sourceID int64) string {
	return "[" + strconv.FormatInt(sourceID, 10) + "]"
}

// TaggedComment is the comment written to Redmine for a Toggl entry.
func TaggedComment(description string, sourceID int64) string {
	return description + " " + CorrelationTag(sourceID)
}

// HasCorrelationTag reports whether comment ends with a "[<digits>]" tag.
func HasCorrelationTag(comment string) bool {
	return tagSuffixPattern.MatchString(comment)
}

func carriesTag(comment string, sourceID int64) bool {
	return strings.HasSuffix(comment, CorrelationTag(sourceID))
}

func isIgnored(entry worklog.SourceEntry) bool {
	return strings.Contains(entry.Description, IgnoreMarker)
}

// FilterIgnored drops entries marked with IgnoreMarker.
func FilterIgnored(entries []worklog.SourceEntry) []worklog.SourceEntry {
	out := make([]worklog.SourceEntry, 0, len(entries))
	for _, entry := range entries {
		if isIgnored(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// ReferencedIssues returns the distinct, sorted issue ids referenced by entries.
// Entries without a single unambiguous reference are skipped here and fail later.
func ReferencedIssues(entries []worklog.SourceEntry) []int64 {
	seen := make(map[int64]struct{}, len(entries))
	for _, entry := range entries {
		id, err := ExtractReference(entry.Description)
		if err != nil {
			continue
		}
		seen[id] = struct{}{}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
