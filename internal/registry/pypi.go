// Package registry handles communication with the PyPI package index:
// project metadata lookup and distribution URL resolution.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	semver "github.com/Masterminds/semver/v3"
)

const pypiBaseURL = "https://pypi.org/pypi"

// ErrNotFound is returned when a package or version does not exist on the
// index, or when a release carries no downloadable distribution.
var ErrNotFound = errors.New("package not found")

// Client handles communication with the PyPI JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Project represents package metadata from the PyPI JSON API.
type Project struct {
	Info     ProjectInfo               `json:"info"`
	Releases map[string][]Distribution `json:"releases"`
	URLs     []Distribution            `json:"urls"`
}

// ProjectInfo contains the main package information.
type ProjectInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Summary string `json:"summary"`
}

// Distribution represents one downloadable file of a release.
type Distribution struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	PackageType string `json:"packagetype"` // "sdist" or "bdist_wheel"
	Size        int64  `json:"size"`
	Yanked      bool   `json:"yanked"`
}

// ResolvedDistribution is the artifact location picked for a scan request.
type ResolvedDistribution struct {
	Name         string
	Version      string
	Filename     string
	URL          string
	PackageType  string
	DeclaredSize int64
}

// NewClient creates a new PyPI index client.
func NewClient() *Client {
	return &Client{
		baseURL: pypiBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// GetProject fetches package metadata from PyPI.
func (c *Client) GetProject(ctx context.Context, packageName string) (*Project, error) {
	reqURL := fmt.Sprintf("%s/%s/json", c.baseURL, packageName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", packageName, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dragonfly-scanner/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package %s: %w", packageName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("package %s: %w", packageName, ErrNotFound)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pypi returned status %d for %s", resp.StatusCode, packageName)
	}

	var proj Project
	if err := json.NewDecoder(resp.Body).Decode(&proj); err != nil {
		return nil, fmt.Errorf("failed to parse pypi response for %s: %w", packageName, err)
	}

	return &proj, nil
}

// ResolveDistribution picks the distribution to scan for a package
// reference. An empty or "latest" version selects the newest release.
// Source distributions are preferred over wheels when a release has both.
func (c *Client) ResolveDistribution(ctx context.Context, packageName, version string) (*ResolvedDistribution, error) {
	proj, err := c.GetProject(ctx, packageName)
	if err != nil {
		return nil, err
	}

	var dists []Distribution
	if version == "" || version == "latest" {
		version, dists = latestRelease(proj)
	} else {
		var ok bool
		dists, ok = proj.Releases[version]
		if !ok {
			return nil, fmt.Errorf("version %s of %s: %w", version, packageName, ErrNotFound)
		}
	}

	dist := pickDistribution(dists)
	if dist == nil {
		return nil, fmt.Errorf("no downloadable distribution for %s %s: %w", packageName, version, ErrNotFound)
	}

	return &ResolvedDistribution{
		Name:         proj.Info.Name,
		Version:      version,
		Filename:     dist.Filename,
		URL:          dist.URL,
		PackageType:  dist.PackageType,
		DeclaredSize: dist.Size,
	}, nil
}

// latestRelease picks the highest semver-parsable release. Releases with
// unparsable version strings are ignored; if nothing parses, the index's
// own preferred file list is used.
func latestRelease(proj *Project) (string, []Distribution) {
	var latest *semver.Version
	var latestKey string

	for key, dists := range proj.Releases {
		if len(dists) == 0 {
			continue
		}
		v, err := semver.NewVersion(key)
		if err != nil {
			continue
		}
		if v.Prerelease() != "" {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
			latestKey = key
		}
	}

	if latest == nil {
		return proj.Info.Version, proj.URLs
	}
	return latestKey, proj.Releases[latestKey]
}

// pickDistribution prefers the sdist, falling back to the first wheel.
func pickDistribution(dists []Distribution) *Distribution {
	var wheel *Distribution
	for i := range dists {
		d := &dists[i]
		if d.Yanked || d.URL == "" {
			continue
		}
		if d.PackageType == "sdist" || strings.HasSuffix(d.Filename, ".tar.gz") {
			return d
		}
		if wheel == nil && (d.PackageType == "bdist_wheel" || strings.HasSuffix(d.Filename, ".whl")) {
			wheel = d
		}
	}
	return wheel
}
