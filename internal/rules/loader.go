package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRulesFromPath loads rules from a YAML file or from every
// *.yml/*.yaml file in a directory, compiled together as one set.
func LoadRulesFromPath(path string) (*RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule path: %w", err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		return ParseRules(data)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no rule files found in %s", path)
	}
	// Stable compile order regardless of directory iteration order.
	sort.Strings(files)

	var version string
	var defs []*RuleDef
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file %s: %w", file, err)
		}

		var doc struct {
			Version string     `yaml:"version"`
			Rules   []*RuleDef `yaml:"rules"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &CompileError{Err: fmt.Errorf("failed to parse %s: %w", file, err)}
		}
		if doc.Version != "" {
			version = doc.Version
		}
		defs = append(defs, doc.Rules...)
	}

	return CompileRules(version, defs)
}

// LoadDefaultRules compiles the built-in rule set. The embedded source is
// covered by tests, so compilation cannot fail at runtime.
func LoadDefaultRules() *RuleSet {
	rs, err := ParseRules([]byte(DefaultRulesYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded default rules failed to compile: %v", err))
	}
	return rs
}
