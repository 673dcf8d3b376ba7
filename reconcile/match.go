package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tracksync/worklog"
)

var ErrAmbiguousMatch = errors.New("multiple Redmine entries carry the same correlation tag")

// FindMatch returns the single candidate tagged for src, or nil when none is.
// Several tagged candidates are a data-integrity error.
func FindMatch(src worklog.SourceEntry, candidates []worklog.TargetEntry) (*worklog.TargetEntry, error) {
	matches := make([]worklog.TargetEntry, 0, 1)
	for _, candidate := range candidates {
		if carriesTag(candidate.Comment, src.ID) {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		match := matches[0]
		return &match, nil
	default:
		ids := make([]string, 0, len(matches))
		for _, match := range matches {
			ids = append(ids, strconv.FormatInt(match.ID, 10))
		}
		return nil, fmt.Errorf("%w: toggl entry %d, redmine entries %s", ErrAmbiguousMatch, src.ID, strings.Join(ids, ", "))
	}
}
