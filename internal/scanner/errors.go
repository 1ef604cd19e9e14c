package scanner

import (
	"context"
	"errors"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/extract"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/fetcher"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/registry"
)

// Reason is the taxonomy code attached to an error-status verdict so
// callers can make exhaustive decisions instead of parsing messages.
type Reason string

const (
	// ReasonNotFound: the reference does not resolve on the index.
	// User-correctable, never retried.
	ReasonNotFound Reason = "not_found"

	// ReasonFetchTimeout: retrieval exceeded the fetch deadline.
	ReasonFetchTimeout Reason = "fetch_timeout"

	// ReasonNetwork: transient network failure that survived the retry budget.
	ReasonNetwork Reason = "network_error"

	// ReasonSizeLimit: the artifact crossed the download size cap.
	ReasonSizeLimit Reason = "size_limit_exceeded"

	// ReasonExtractionLimit: cumulative extracted size crossed the ceiling.
	ReasonExtractionLimit Reason = "extraction_limit_exceeded"

	// ReasonExtract: the archive could not be unpacked.
	ReasonExtract Reason = "extraction_failed"

	// ReasonEntryErrors: matching completed but every flaggable signal is
	// unknown because some entries could not be evaluated and none matched.
	ReasonEntryErrors Reason = "entry_match_errors"

	// ReasonCanceled: the caller abandoned the scan mid-flight.
	ReasonCanceled Reason = "canceled"

	// ReasonInternal: anything the taxonomy does not name.
	ReasonInternal Reason = "internal_error"
)

// fetchReason maps a resolution or download failure onto the taxonomy.
func fetchReason(err error) Reason {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, fetcher.ErrSizeLimit):
		return ReasonSizeLimit
	case errors.Is(err, fetcher.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonFetchTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, fetcher.ErrTransient):
		return ReasonNetwork
	default:
		return ReasonNetwork
	}
}

// extractReason maps an extraction failure onto the taxonomy.
func extractReason(err error) Reason {
	switch {
	case errors.Is(err, extract.ErrExtractionLimit):
		return ReasonExtractionLimit
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonExtract
	}
}
