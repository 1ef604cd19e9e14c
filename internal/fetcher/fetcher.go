// Package fetcher downloads package distributions with size and time
// bounds, retrying transient failures a bounded number of times.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/registry"
)

var (
	// ErrSizeLimit is returned when a download exceeds the configured cap.
	// The transfer is aborted mid-stream; no partial bytes are kept.
	ErrSizeLimit = errors.New("artifact exceeds size limit")

	// ErrTimeout is returned when retrieval exceeds the fetch deadline.
	ErrTimeout = errors.New("fetch timed out")

	// ErrTransient is wrapped around network failures that were retried
	// up to the attempt budget and still failed.
	ErrTransient = errors.New("transient network failure")
)

const defaultBackoff = 500 * time.Millisecond

// Artifact is a downloaded distribution, held in memory until extraction.
type Artifact struct {
	Name         string
	Version      string
	Filename     string
	SourceURL    string
	PackageType  string
	DeclaredSize int64
	Bytes        []byte
}

// Options bound a single fetch.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	Attempts int
	Backoff  time.Duration // initial retry delay, doubled per attempt
}

// Fetcher downloads resolved distributions.
type Fetcher struct {
	httpClient *http.Client
}

// New creates a fetcher with its own HTTP client. The per-fetch deadline
// comes from Options, not from the client.
func New() *Fetcher {
	return &Fetcher{httpClient: &http.Client{}}
}

// Fetch downloads the distribution within opts' bounds. Transient
// failures (connection errors, 5xx) are retried with doubling backoff up
// to opts.Attempts; 4xx responses and size violations are never retried.
func (f *Fetcher) Fetch(ctx context.Context, dist *registry.ResolvedDistribution, opts Options) (*Artifact, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Reject before transferring anything when the index already told us
	// the file is too big.
	if opts.MaxBytes > 0 && dist.DeclaredSize > opts.MaxBytes {
		return nil, fmt.Errorf("declared size %d: %w", dist.DeclaredSize, ErrSizeLimit)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, timeoutOr(ctx, lastErr)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		data, retryable, err := f.download(ctx, dist.URL, opts.MaxBytes)
		if err == nil {
			return &Artifact{
				Name:         dist.Name,
				Version:      dist.Version,
				Filename:     dist.Filename,
				SourceURL:    dist.URL,
				PackageType:  dist.PackageType,
				DeclaredSize: dist.DeclaredSize,
				Bytes:        data,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, timeoutOr(ctx, err)
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTransient, opts.Attempts, lastErr)
}

// download performs one attempt. The boolean reports whether the failure
// class is worth retrying.
func (f *Fetcher) download(ctx context.Context, url string, maxBytes int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("User-Agent", "dragonfly-scanner/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		// Connection-level failure: resets, refused connections, DNS.
		return nil, true, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("artifact %s: %w", url, registry.ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, false, fmt.Errorf("content length %d: %w", resp.ContentLength, ErrSizeLimit)
	}

	var buf bytes.Buffer
	if maxBytes > 0 {
		// Read one byte past the cap so crossing it is detectable, then
		// abort the transfer instead of buffering the rest.
		n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxBytes+1))
		if err != nil {
			return nil, true, fmt.Errorf("download interrupted: %w", err)
		}
		if n > maxBytes {
			return nil, false, ErrSizeLimit
		}
	} else {
		if _, err := io.Copy(&buf, resp.Body); err != nil {
			return nil, true, fmt.Errorf("download interrupted: %w", err)
		}
	}

	return buf.Bytes(), false, nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if err == nil {
		return ctx.Err()
	}
	return err
}
