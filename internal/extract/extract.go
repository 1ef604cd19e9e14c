// Package extract unpacks fetched distributions into an ephemeral
// workspace, defending against hostile archive contents: path traversal,
// symlink escapes, decompression bombs, and oversized members.
package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/fetcher"
)

// ErrExtractionLimit is returned when cumulative extracted size crosses
// the scan's ceiling. The whole extraction is aborted.
var ErrExtractionLimit = errors.New("extraction size limit exceeded")

// Skip reasons recorded in verdict diagnostics.
const (
	SkipUnsafePath  = "unsafe path"
	SkipSymlink     = "symlink"
	SkipSpecialFile = "special file"
	SkipTooLarge    = "too large"
)

// Entry is one safely extracted regular file.
type Entry struct {
	// Path is the entry's slash-separated path relative to the workspace root.
	Path    string
	Size    int64
	Content []byte
}

// SkippedEntry records a member that was rejected rather than extracted.
type SkippedEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result holds the extracted entries in archive order plus diagnostics.
type Result struct {
	Entries    []Entry
	Skipped    []SkippedEntry
	TotalBytes int64
}

// Limits bound one extraction.
type Limits struct {
	// MaxTotalBytes is the absolute ceiling on cumulative extracted size.
	// The effective ceiling is max(10x the declared archive size, this).
	MaxTotalBytes int64

	// MaxFileBytes is the per-file cap. Larger members are recorded as
	// skipped instead of extracted.
	MaxFileBytes int64
}

// declaredSizeMultiplier scales the declared archive size into a
// compression-ratio ceiling for legitimate large packages.
const declaredSizeMultiplier = 10

// Extract unpacks the artifact into the workspace. Unsafe members are
// skipped individually; only crossing the cumulative ceiling aborts the
// whole extraction.
func Extract(artifact *fetcher.Artifact, ws *Workspace, limits Limits) (*Result, error) {
	ceiling := limits.MaxTotalBytes
	if artifact.DeclaredSize > 0 {
		if scaled := artifact.DeclaredSize * declaredSizeMultiplier; scaled > ceiling {
			ceiling = scaled
		}
	}

	ex := &extraction{
		ws:      ws,
		ceiling: ceiling,
		perFile: limits.MaxFileBytes,
		result:  &Result{},
	}

	switch {
	case strings.HasSuffix(artifact.Filename, ".tar.gz"), strings.HasSuffix(artifact.Filename, ".tgz"):
		if err := ex.extractTarGz(artifact.Bytes); err != nil {
			return nil, err
		}
	case strings.HasSuffix(artifact.Filename, ".whl"), strings.HasSuffix(artifact.Filename, ".zip"):
		if err := ex.extractZip(artifact.Bytes); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", artifact.Filename)
	}

	return ex.result, nil
}

type extraction struct {
	ws      *Workspace
	ceiling int64
	perFile int64
	result  *Result
}

func (ex *extraction) extractTarGz(data []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar archive: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		case tar.TypeSymlink, tar.TypeLink:
			ex.skip(hdr.Name, SkipSymlink)
			continue
		default:
			ex.skip(hdr.Name, SkipSpecialFile)
			continue
		}

		if err := ex.addEntry(hdr.Name, hdr.Size, tr); err != nil {
			return err
		}
	}
}

func (ex *extraction) extractZip(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, f := range zr.File {
		mode := f.Mode()
		switch {
		case mode.IsDir():
			continue
		case mode&os.ModeSymlink != 0:
			ex.skip(f.Name, SkipSymlink)
			continue
		case !mode.IsRegular():
			ex.skip(f.Name, SkipSpecialFile)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open zip member %s: %w", f.Name, err)
		}
		err = ex.addEntry(f.Name, int64(f.UncompressedSize64), rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// addEntry validates one regular member, reads it within the per-file
// cap, writes it into the workspace, and accounts it against the ceiling.
func (ex *extraction) addEntry(name string, declared int64, r io.Reader) error {
	rel, ok := safeRelPath(name)
	if !ok {
		ex.skip(name, SkipUnsafePath)
		return nil
	}

	if ex.perFile > 0 && declared > ex.perFile {
		ex.skip(rel, SkipTooLarge)
		return nil
	}

	var content []byte
	var err error
	if ex.perFile > 0 {
		// One byte of headroom so a member whose header lies about its
		// size is still caught.
		content, err = io.ReadAll(io.LimitReader(r, ex.perFile+1))
	} else {
		content, err = io.ReadAll(r)
	}
	if err != nil {
		return fmt.Errorf("failed to read archive member %s: %w", name, err)
	}
	if ex.perFile > 0 && int64(len(content)) > ex.perFile {
		ex.skip(rel, SkipTooLarge)
		return nil
	}

	ex.result.TotalBytes += int64(len(content))
	if ex.ceiling > 0 && ex.result.TotalBytes > ex.ceiling {
		return fmt.Errorf("cumulative size %d: %w", ex.result.TotalBytes, ErrExtractionLimit)
	}

	target := ex.ws.Path(rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace file %s: %w", rel, err)
	}

	ex.result.Entries = append(ex.result.Entries, Entry{
		Path:    rel,
		Size:    int64(len(content)),
		Content: content,
	})
	return nil
}

func (ex *extraction) skip(name, reason string) {
	ex.result.Skipped = append(ex.result.Skipped, SkippedEntry{Path: name, Reason: reason})
}

// safeRelPath normalizes an archive member name and reports whether it
// stays inside the workspace root.
func safeRelPath(name string) (string, bool) {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if cleaned == "." || cleaned == "" {
		return "", false
	}
	if path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", false
	}
	// Windows-style drive or volume prefixes never belong in a package.
	if strings.Contains(cleaned, ":") {
		return "", false
	}
	return cleaned, true
}
