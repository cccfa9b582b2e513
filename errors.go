package terrastream

import "fmt"

// Kind identifies the semantic class of a streaming error.
// It is deliberately not a type per package: every sub-package wraps
// its failures in a StreamError carrying one of these, so a caller can
// classify a failure with errors.As into a *StreamError and a look at
// its Kind, regardless of which component raised it.
type Kind uint8

const (
	// InvalidDescriptor: a descriptor is not supported by the device.
	// Non-recoverable for that request.
	InvalidDescriptor Kind = iota + 1
	// SourceIOFailure: a data packet failed to produce bytes. The
	// owning transaction becomes cancelled; recovery is to retry with
	// a fresh transaction.
	SourceIOFailure
	// TileSetExhausted: no evictable slot is available this frame.
	// Transient — the caller should drop the request and retry next
	// frame.
	TileSetExhausted
	// DuplicateRegistration: a Bridge cell-hash is already registered.
	// Programmer error, fatal at the call site.
	DuplicateRegistration
	// LockMissing: an edit operation was called without a covering GPU
	// cache region.
	LockMissing
	// StaleHandle: a handle's generation no longer matches its slot.
	// Treated as "tile not resident"; triggers a re-queue.
	StaleHandle
)

// String returns a short, lowercase, hyphenated name for the kind.
func (k Kind) String() string {
	switch k {
	case InvalidDescriptor:
		return "invalid-descriptor"
	case SourceIOFailure:
		return "source-io-failure"
	case TileSetExhausted:
		return "tile-set-exhausted"
	case DuplicateRegistration:
		return "duplicate-registration"
	case LockMissing:
		return "lock-missing"
	case StaleHandle:
		return "stale-handle"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Transient reports whether the failure is expected to be absorbed and
// retried rather than treated as fatal. TileSetExhausted and SourceIOFailure are transient;
// StaleHandle is treated as "not resident" and re-queued, which the
// caller also treats as non-fatal. InvalidDescriptor and
// DuplicateRegistration are programmer errors and are not transient.
func (k Kind) Transient() bool {
	switch k {
	case TileSetExhausted, SourceIOFailure, StaleHandle:
		return true
	default:
		return false
	}
}

// StreamError pairs an underlying error with its Kind so that callers
// across package boundaries can classify failures uniformly.
type StreamError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped
// error.
func (e *StreamError) Unwrap() error { return e.Err }

// NewError wraps err with kind, for sub-packages to return a
// classified failure.
func NewError(kind Kind, err error) *StreamError {
	return &StreamError{Kind: kind, Err: err}
}
