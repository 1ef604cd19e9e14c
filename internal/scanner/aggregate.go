package scanner

import (
	"sort"
	"time"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/extract"
)

// Aggregate merges per-file match records into a finalized verdict:
// duplicates by (rule, path) collapse to the first record, ordering is
// made total (path ascending, then rule id), and the package score is
// derived. The returned verdict is an immutable snapshot.
func Aggregate(ref PackageReference, rulesVersion string, records []MatchRecord,
	skipped []extract.SkippedEntry, entryErrors []EntryError, duration time.Duration) *Verdict {

	deduped := dedupe(records)
	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Path != deduped[j].Path {
			return deduped[i].Path < deduped[j].Path
		}
		return deduped[i].RuleID < deduped[j].RuleID
	})

	v := &Verdict{
		Name:           ref.Name,
		Version:        ref.Version,
		Matches:        deduped,
		SkippedEntries: skipped,
		EntryErrors:    entryErrors,
		RulesVersion:   rulesVersion,
		Duration:       duration,
		PyPIURL:        projectURL(ref),
	}

	switch {
	case len(deduped) > 0:
		v.Status = StatusFlagged
		v.Score = packageScore(deduped)
		v.MostMaliciousFile = mostMaliciousFile(deduped)
		v.InspectorURL = inspectorURL(ref, v.MostMaliciousFile)
	case len(entryErrors) > 0:
		// Nothing matched, but coverage was incomplete. A clean verdict
		// would overstate what the scan actually established.
		v.Status = StatusError
		v.Reason = ReasonEntryErrors
		v.Detail = "some entries could not be evaluated"
	default:
		v.Status = StatusClean
	}

	return v
}

func dedupe(records []MatchRecord) []MatchRecord {
	seen := make(map[string]bool, len(records))
	out := make([]MatchRecord, 0, len(records))
	for _, rec := range records {
		key := rec.RuleID + "\x00" + rec.Path
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

// packageScore sums each distinct matched rule's weight once, no matter
// how many files it hit.
func packageScore(records []MatchRecord) int {
	weights := make(map[string]int)
	for _, rec := range records {
		weights[rec.RuleID] = rec.Weight
	}
	score := 0
	for _, w := range weights {
		score += w
	}
	return score
}

// mostMaliciousFile returns the path with the highest summed rule weight,
// breaking ties lexicographically so the result is stable.
func mostMaliciousFile(records []MatchRecord) string {
	scores := make(map[string]int)
	for _, rec := range records {
		scores[rec.Path] += rec.Weight
	}

	best := ""
	bestScore := -1
	for path, score := range scores {
		if score > bestScore || (score == bestScore && path < best) {
			best = path
			bestScore = score
		}
	}
	return best
}

// failVerdict builds the error-status verdict for a scan aborted before
// matching could complete.
func failVerdict(ref PackageReference, rulesVersion string, reason Reason, err error, duration time.Duration) *Verdict {
	v := &Verdict{
		Name:         ref.Name,
		Version:      ref.Version,
		Status:       StatusError,
		Reason:       reason,
		RulesVersion: rulesVersion,
		Duration:     duration,
		PyPIURL:      projectURL(ref),
	}
	if err != nil {
		v.Detail = err.Error()
	}
	return v
}
