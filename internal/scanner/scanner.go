package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/config"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/extract"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/fetcher"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/registry"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/rules"
)

// state tracks a scan through its lifecycle. Failed is reachable from
// any state; the workspace is torn down on Done and Failed alike.
type state string

const (
	statePending     state = "pending"
	stateFetching    state = "fetching"
	stateExtracting  state = "extracting"
	stateMatching    state = "matching"
	stateAggregating state = "aggregating"
	stateDone        state = "done"
	stateFailed      state = "failed"
)

// Resolver resolves a package reference to a downloadable distribution.
type Resolver interface {
	ResolveDistribution(ctx context.Context, name, version string) (*registry.ResolvedDistribution, error)
}

// ArtifactFetcher retrieves distribution bytes within bounds.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, dist *registry.ResolvedDistribution, opts fetcher.Options) (*fetcher.Artifact, error)
}

// Scanner orchestrates the scan pipeline. Concurrent scans share only
// the rule provider's read-only snapshots.
type Scanner struct {
	resolver Resolver
	fetcher  ArtifactFetcher
	provider *rules.Provider
	cfg      *config.Config
	log      *slog.Logger
}

// New wires a scanner from the default registry client and fetcher.
func New(cfg *config.Config, provider *rules.Provider, log *slog.Logger) *Scanner {
	return NewWithClients(cfg, provider, registry.NewClient(), fetcher.New(), log)
}

// NewWithClients lets callers substitute the index and download clients.
func NewWithClients(cfg *config.Config, provider *rules.Provider, resolver Resolver, af ArtifactFetcher, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		resolver: resolver,
		fetcher:  af,
		provider: provider,
		cfg:      cfg,
		log:      log,
	}
}

// Scan runs one full request cycle for the reference. It returns an
// error only for a malformed reference; every pipeline failure comes
// back as an error-status verdict carrying a taxonomy reason.
func (s *Scanner) Scan(ctx context.Context, ref PackageReference) (*Verdict, error) {
	if strings.TrimSpace(ref.Name) == "" {
		return nil, fmt.Errorf("package name must not be empty")
	}

	start := time.Now()

	// One snapshot for the whole scan: a concurrent rule reload never
	// affects a scan already in flight.
	snapshot := s.provider.Current()

	log := s.log.With("package", ref.String())

	log.Debug("scan state", "state", string(stateFetching))

	dist, err := s.resolver.ResolveDistribution(ctx, ref.Name, ref.Version)
	if err != nil {
		return s.fail(log, ref, snapshot.Version, fetchReason(err), err, start), nil
	}
	ref.Version = dist.Version

	artifact, err := s.fetcher.Fetch(ctx, dist, fetcher.Options{
		Timeout:  s.cfg.FetchTimeout(),
		MaxBytes: s.cfg.MaxArtifactBytes,
		Attempts: s.cfg.FetchAttempts,
	})
	if err != nil {
		return s.fail(log, ref, snapshot.Version, fetchReason(err), err, start), nil
	}

	log.Debug("scan state", "state", string(stateExtracting))

	ws, err := extract.NewWorkspace()
	if err != nil {
		return s.fail(log, ref, snapshot.Version, ReasonInternal, err, start), nil
	}
	// Workspace cleanup is owed on every exit path from here on,
	// including cancellation mid-matching.
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("failed to remove scan workspace", "error", err)
		}
	}()

	extracted, err := extract.Extract(artifact, ws, extract.Limits{
		MaxTotalBytes: s.cfg.MaxExtractedBytes,
		MaxFileBytes:  s.cfg.MaxFileBytes,
	})
	// The artifact is owned by the fetch/extract handoff only; drop it
	// so matching holds just the extracted entries.
	artifact.Bytes = nil
	if err != nil {
		return s.fail(log, ref, snapshot.Version, extractReason(err), err, start), nil
	}

	log.Debug("scan state", "state", string(stateMatching), "entries", len(extracted.Entries))

	records, entryErrors := MatchEntries(ctx, snapshot, extracted.Entries)
	if err := ctx.Err(); err != nil {
		return s.fail(log, ref, snapshot.Version, ReasonCanceled, err, start), nil
	}

	log.Debug("scan state", "state", string(stateAggregating), "records", len(records))

	verdict := Aggregate(ref, snapshot.Version, records, extracted.Skipped, entryErrors, time.Since(start))

	log.Info("scan complete",
		"state", string(stateDone),
		"status", string(verdict.Status),
		"matches", len(verdict.Matches),
		"score", verdict.Score,
		"duration", verdict.Duration,
	)
	return verdict, nil
}

func (s *Scanner) fail(log *slog.Logger, ref PackageReference, rulesVersion string, reason Reason, err error, start time.Time) *Verdict {
	v := failVerdict(ref, rulesVersion, reason, err, time.Since(start))
	log.Warn("scan failed",
		"state", string(stateFailed),
		"reason", string(reason),
		"error", err,
	)
	return v
}
