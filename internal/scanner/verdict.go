// Package scanner composes artifact retrieval, extraction, and rule
// matching into one scan pipeline producing deterministic verdicts.
package scanner

import (
	"fmt"
	"time"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/extract"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/rules"
)

// Status is the overall outcome of a scan.
type Status string

const (
	StatusClean   Status = "clean"
	StatusFlagged Status = "flagged"
	StatusError   Status = "error"
)

// PackageReference identifies the package version being scanned.
type PackageReference struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (r PackageReference) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// MatchRecord is one rule matching one extracted file. MatchedStrings and
// Offsets are parallel slices ordered by pattern then offset.
type MatchRecord struct {
	RuleID         string         `json:"rule_id"`
	Path           string         `json:"path"`
	Severity       rules.Severity `json:"severity"`
	Weight         int            `json:"weight"`
	MatchedStrings []string       `json:"matched_strings"`
	Offsets        []int          `json:"offsets"`
}

// EntryError records a file whose evaluation failed. It is a diagnostic,
// not a scan failure: remaining entries are still evaluated.
type EntryError struct {
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// Verdict is the final result returned to the caller. Its matches slice
// is finalized by the aggregator and never mutated afterwards.
type Verdict struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  Status `json:"status"`

	// Reason carries the taxonomy code when Status is error.
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`

	Matches []MatchRecord `json:"matches"`

	// Score sums the weight of each distinct matched rule once package-wide.
	Score int `json:"score"`

	// MostMaliciousFile is the entry with the highest summed rule weight.
	MostMaliciousFile string `json:"most_malicious_file,omitempty"`

	PyPIURL      string `json:"pypi_url,omitempty"`
	InspectorURL string `json:"inspector_url,omitempty"`

	SkippedEntries []extract.SkippedEntry `json:"skipped_entries,omitempty"`
	EntryErrors    []EntryError           `json:"entry_errors,omitempty"`

	RulesVersion string        `json:"rules_version,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

const (
	pypiProjectURL   = "https://pypi.org/project/%s/%s/"
	inspectorBaseURL = "https://inspector.pypi.io/project/%s/%s"
)

func projectURL(ref PackageReference) string {
	return fmt.Sprintf(pypiProjectURL, ref.Name, ref.Version)
}

func inspectorURL(ref PackageReference, file string) string {
	base := fmt.Sprintf(inspectorBaseURL, ref.Name, ref.Version)
	if file == "" {
		return base
	}
	return base + "/" + file
}
