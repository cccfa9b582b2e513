package datasource

import (
	"context"
	"errors"
)

// ErrConsumed is returned by GetBytes when a Source has already been
// read once. Sources are finite and not restartable.
var ErrConsumed = errors.New("datasource: source already consumed")

// ErrSubresourceRange is returned when a subresource index is out of
// range for the source.
var ErrSubresourceRange = errors.New("datasource: subresource index out of range")

// Source is the minimal capability set a data packet must provide: get
// bytes for a subresource, and describe its row/slice pitch so the
// caller can drive a GPU copy. Implementations are read-once,
// single-consumer.
type Source interface {
	// GetBytes returns the bytes for the given subresource index. It
	// may only be called once per subresource; a second call for the
	// same index returns ErrConsumed.
	GetBytes(subresource int) ([]byte, error)

	// RowPitch returns the byte stride between rows for the given
	// subresource, or 0 if the source has no row structure (e.g. a
	// linear buffer).
	RowPitch(subresource int) uint64

	// SlicePitch returns the byte stride between depth slices (or
	// array layers) for the given subresource, or 0 if not applicable.
	SlicePitch(subresource int) uint64

	// SubresourceCount returns how many subresources this source can
	// supply bytes for.
	SubresourceCount() int
}

// AsyncSource is an optional capability: a Source that can start
// fetching its bytes in the background before GetBytes is called.
// Sources that don't implement it are assumed to be cheap/synchronous
// (e.g. an in-memory packet).
type AsyncSource interface {
	Source

	// BeginBackgroundLoad starts an asynchronous fetch and returns a
	// channel that receives the load result (nil on success) once the
	// bytes are ready to be read via GetBytes; the channel is not
	// closed. Calling GetBytes before the result arrives may block.
	BeginBackgroundLoad(ctx context.Context) <-chan error
}
