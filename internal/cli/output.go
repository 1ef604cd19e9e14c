package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/colorutil"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/scanner"
)

func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// printVerdict renders a human-readable scan report.
func printVerdict(v *scanner.Verdict) {
	fmt.Printf("Package: %s@%s\n", v.Name, v.Version)
	fmt.Printf("Status:  %s", colorutil.ColorizeStatus(string(v.Status)))
	if v.Status == scanner.StatusError {
		fmt.Printf(" (%s)", v.Reason)
	}
	fmt.Println()
	if v.Status == scanner.StatusFlagged {
		fmt.Printf("Score:   %s\n", colorutil.ColorizeScore(fmt.Sprintf("%d", v.Score), v.Score))
	}
	fmt.Printf("Took:    %s\n\n", v.Duration)

	if v.Detail != "" {
		fmt.Printf("Detail: %s\n\n", v.Detail)
	}

	if len(v.Matches) > 0 {
		fmt.Println("Matched rules:")
		lastPath := ""
		for _, m := range v.Matches {
			if m.Path != lastPath {
				fmt.Printf("  %s\n", m.Path)
				lastPath = m.Path
			}
			fmt.Printf("    [%s] %s (%d hits)\n",
				colorutil.ColorizeSeverity(string(m.Severity)), m.RuleID, len(m.Offsets))
			for i, s := range m.MatchedStrings {
				if i >= 3 {
					fmt.Printf("        ... %d more\n", len(m.MatchedStrings)-i)
					break
				}
				fmt.Printf("        @%d %s\n", m.Offsets[i], truncate(s, 60))
			}
		}
		fmt.Println()
		if v.MostMaliciousFile != "" {
			fmt.Printf("Most malicious file: %s\n", v.MostMaliciousFile)
			fmt.Printf("Inspector: %s\n", v.InspectorURL)
		}
	}

	if len(v.SkippedEntries) > 0 {
		fmt.Printf("\nSkipped entries (%d):\n", len(v.SkippedEntries))
		for _, s := range v.SkippedEntries {
			fmt.Printf("  %s (%s)\n", s.Path, s.Reason)
		}
	}

	if len(v.EntryErrors) > 0 {
		fmt.Printf("\nEntry errors (%d):\n", len(v.EntryErrors))
		for _, e := range v.EntryErrors {
			fmt.Printf("  %s: %s\n", e.Path, e.Detail)
		}
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
