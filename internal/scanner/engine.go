package scanner

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/extract"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/rules"
)

// entryResult keeps one entry's outcome so parallel evaluation order
// never leaks into the output: results are flattened by entry index.
type entryResult struct {
	records []MatchRecord
	err     *EntryError
}

// MatchEntries evaluates every compiled rule against every entry. Entries
// are fanned out across a bounded worker pool; each (rule, entry) pair is
// independent, so scheduling order cannot change the outcome. A failure
// on one entry is recorded as an EntryError and the rest still run.
func MatchEntries(ctx context.Context, rs *rules.RuleSet, entries []extract.Entry) ([]MatchRecord, []EntryError) {
	results := make([]entryResult, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range entries {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = matchEntry(rs, &entries[i])
			return nil
		})
	}
	// The only group error is context cancellation; partial results are
	// still flattened so the caller can report what was evaluated.
	_ = g.Wait()

	var records []MatchRecord
	var entryErrors []EntryError
	for _, res := range results {
		records = append(records, res.records...)
		if res.err != nil {
			entryErrors = append(entryErrors, *res.err)
		}
	}
	return records, entryErrors
}

// matchEntry runs the full rule set against one file. A panicking rule
// evaluation is contained here so a pathological entry cannot take down
// the scan.
func matchEntry(rs *rules.RuleSet, entry *extract.Entry) (res entryResult) {
	defer func() {
		if r := recover(); r != nil {
			res = entryResult{err: &EntryError{
				Path:   entry.Path,
				Detail: fmt.Sprintf("rule evaluation panicked: %v", r),
			}}
		}
	}()

	for _, rule := range rs.Rules {
		match, ok := rule.Evaluate(entry.Content)
		if !ok {
			continue
		}
		res.records = append(res.records, MatchRecord{
			RuleID:         rule.ID,
			Path:           entry.Path,
			Severity:       rule.Severity,
			Weight:         rule.Weight,
			MatchedStrings: match.Strings,
			Offsets:        match.Offsets,
		})
	}
	return res
}
