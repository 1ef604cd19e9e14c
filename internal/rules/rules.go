// Package rules loads YAML detection rule definitions and compiles them
// into an immutable, shareable rule set evaluated against file contents.
package rules

import (
	"bytes"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Severity levels for rules
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// maxHitsPerRule bounds how many hits a single rule records against one
// file, so a pathological input cannot blow up a match record.
const maxHitsPerRule = 100

// RuleDef is the YAML form of a detection rule before compilation.
type RuleDef struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Severity    Severity     `yaml:"severity"`
	Weight      int          `yaml:"weight"`
	Enabled     *bool        `yaml:"enabled"`
	Require     string       `yaml:"require"` // "any" (default) or "all"
	Patterns    []PatternDef `yaml:"patterns"`
	Tags        []string     `yaml:"tags"`
}

// PatternDef defines one content pattern of a rule.
type PatternDef struct {
	Type   string   `yaml:"type"`   // "substring", "regex", "word"
	Value  string   `yaml:"value"`  // pattern source for substring/regex
	Values []string `yaml:"values"` // word list for "word"
}

// CompileError reports an invalid rule source.
type CompileError struct {
	RuleID string
	Err    error
}

func (e *CompileError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("rule compilation failed: %v", e.Err)
	}
	return fmt.Sprintf("rule %q: compilation failed: %v", e.RuleID, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Rule is a compiled detection rule. Read-only after compilation.
type Rule struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	Weight      int
	Tags        []string

	requireAll bool
	patterns   []matcher
}

// Match holds the evidence for one rule matching one piece of content.
// Strings and Offsets are parallel, ordered by pattern then by offset.
type Match struct {
	Strings []string
	Offsets []int
}

// RuleSet holds all compiled rules. Shared read-only across concurrent
// scans; never mutated after Compile returns it.
type RuleSet struct {
	Version string
	Rules   []*Rule

	byID map[string]*Rule
}

// matcher finds all occurrences of one pattern in content.
type matcher interface {
	find(content []byte, limit int) []hit
}

type hit struct {
	offset  int
	matched string
}

// ParseRules parses YAML rule definitions and compiles them.
func ParseRules(data []byte) (*RuleSet, error) {
	var doc struct {
		Version string     `yaml:"version"`
		Rules   []*RuleDef `yaml:"rules"`
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CompileError{Err: fmt.Errorf("failed to parse rules: %w", err)}
	}

	return CompileRules(doc.Version, doc.Rules)
}

// CompileRules compiles parsed definitions into a RuleSet. Any invalid
// rule fails the whole compilation.
func CompileRules(version string, defs []*RuleDef) (*RuleSet, error) {
	rs := &RuleSet{
		Version: version,
		byID:    make(map[string]*Rule, len(defs)),
	}

	for _, def := range defs {
		if def.Enabled != nil && !*def.Enabled {
			continue
		}

		rule, err := compileRule(def)
		if err != nil {
			return nil, err
		}
		if _, dup := rs.byID[rule.ID]; dup {
			return nil, &CompileError{RuleID: rule.ID, Err: fmt.Errorf("duplicate rule id")}
		}

		rs.byID[rule.ID] = rule
		rs.Rules = append(rs.Rules, rule)
	}

	return rs, nil
}

func compileRule(def *RuleDef) (*Rule, error) {
	if def.ID == "" {
		return nil, &CompileError{Err: fmt.Errorf("rule is missing an id")}
	}
	if len(def.Patterns) == 0 {
		return nil, &CompileError{RuleID: def.ID, Err: fmt.Errorf("rule has no patterns")}
	}

	rule := &Rule{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Severity:    def.Severity,
		Weight:      def.Weight,
		Tags:        def.Tags,
	}
	if rule.Severity == "" {
		rule.Severity = SeverityMedium
	}
	if rule.Weight == 0 {
		rule.Weight = SeverityScore(rule.Severity)
	}

	switch def.Require {
	case "", "any":
		rule.requireAll = false
	case "all":
		rule.requireAll = true
	default:
		return nil, &CompileError{RuleID: def.ID, Err: fmt.Errorf("unknown require mode %q", def.Require)}
	}

	for _, p := range def.Patterns {
		m, err := compilePattern(p)
		if err != nil {
			return nil, &CompileError{RuleID: def.ID, Err: err}
		}
		rule.patterns = append(rule.patterns, m)
	}

	return rule, nil
}

func compilePattern(def PatternDef) (matcher, error) {
	switch def.Type {
	case "substring":
		if def.Value == "" {
			return nil, fmt.Errorf("substring pattern has empty value")
		}
		return substringPattern(def.Value), nil

	case "regex":
		if def.Value == "" {
			return nil, fmt.Errorf("regex pattern has empty value")
		}
		re, err := regexp.Compile(def.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", def.Value, err)
		}
		return (*regexPattern)(re), nil

	case "word":
		if len(def.Values) == 0 {
			return nil, fmt.Errorf("word pattern has no values")
		}
		words := make([][]byte, len(def.Values))
		for i, w := range def.Values {
			if w == "" {
				return nil, fmt.Errorf("word pattern has an empty value")
			}
			words[i] = bytes.ToLower([]byte(w))
		}
		return wordPattern(words), nil

	default:
		return nil, fmt.Errorf("unknown pattern type %q", def.Type)
	}
}

// Evaluate runs the rule against content. The boolean reports whether the
// rule matched; the Match carries every recorded hit in pattern order.
func (r *Rule) Evaluate(content []byte) (Match, bool) {
	var all []hit
	matchedPatterns := 0

	for _, p := range r.patterns {
		limit := maxHitsPerRule - len(all)
		if limit < 1 {
			// Keep probing with a minimal budget so require:all rules
			// still evaluate every pattern once the hit cap is reached.
			limit = 1
		}
		hits := p.find(content, limit)
		if len(hits) > 0 {
			matchedPatterns++
			all = append(all, hits...)
		}
		if r.requireAll && len(hits) == 0 {
			return Match{}, false
		}
		if !r.requireAll && len(all) >= maxHitsPerRule {
			break
		}
	}

	if matchedPatterns == 0 {
		return Match{}, false
	}
	if r.requireAll && matchedPatterns < len(r.patterns) {
		return Match{}, false
	}

	match := Match{
		Strings: make([]string, len(all)),
		Offsets: make([]int, len(all)),
	}
	for i, h := range all {
		match.Strings[i] = h.matched
		match.Offsets[i] = h.offset
	}
	return match, true
}

// Get returns a compiled rule by id.
func (rs *RuleSet) Get(id string) (*Rule, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// Len returns the number of enabled, compiled rules.
func (rs *RuleSet) Len() int { return len(rs.Rules) }

// substringPattern matches every exact byte occurrence of the needle.
type substringPattern string

func (p substringPattern) find(content []byte, limit int) []hit {
	var hits []hit
	needle := []byte(p)
	pos := 0
	for limit > 0 {
		i := bytes.Index(content[pos:], needle)
		if i < 0 {
			break
		}
		hits = append(hits, hit{offset: pos + i, matched: string(p)})
		pos += i + len(needle)
		limit--
	}
	return hits
}

// regexPattern matches every non-overlapping occurrence of the expression.
type regexPattern regexp.Regexp

func (p *regexPattern) find(content []byte, limit int) []hit {
	re := (*regexp.Regexp)(p)
	locs := re.FindAllIndex(content, limit)
	hits := make([]hit, 0, len(locs))
	for _, loc := range locs {
		hits = append(hits, hit{offset: loc[0], matched: string(content[loc[0]:loc[1]])})
	}
	return hits
}

// wordPattern matches any word of its list, case-insensitively.
type wordPattern [][]byte

func (p wordPattern) find(content []byte, limit int) []hit {
	lower := bytes.ToLower(content)
	var hits []hit
	for _, word := range p {
		pos := 0
		for limit > len(hits) {
			i := bytes.Index(lower[pos:], word)
			if i < 0 {
				break
			}
			start := pos + i
			hits = append(hits, hit{offset: start, matched: string(content[start : start+len(word)])})
			pos = start + len(word)
		}
		if len(hits) >= limit {
			break
		}
	}
	return hits
}

// SeverityScore returns the numeric weight for a severity, used as the
// default rule weight when none is declared.
func SeverityScore(s Severity) int {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	case SeverityInfo:
		return 10
	default:
		return 0
	}
}
