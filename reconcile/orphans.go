package reconcile

import (
	"time"

	"tracksync/worklog"
)

const orphanMessage = "No corresponding Toggl entry for Redmine entry (deleted in Toggl after it was synced? If yes, delete it manually in Redmine as well.)"

// FindOrphans reports every tagged Redmine entry whose Toggl entry is no longer
// among sources. Nothing is deleted.
func FindOrphans(ownerID int64, targets []worklog.TargetEntry, sources []worklog.SourceEntry, loc *time.Location) []Failure {
	tags := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		tags[CorrelationTag(src.ID)] = struct{}{}
	}

	orphans := make([]Failure, 0)
	for _, target := range targets {
		if !HasCorrelationTag(target.Comment) {
			continue
		}
		if _, ok := tags[tagSuffixPattern.FindString(target.Comment)]; ok {
			continue
		}
		orphans = append(orphans, targetFailure(ownerID, target, loc, orphanMessage))
	}
	return orphans
}
