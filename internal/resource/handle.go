package resource

import (
	"sync/atomic"

	"github.com/google/uuid"

	"hlsgen/internal/logger"
)

// Handle is a shared, reference-counted handle to a backing media
// resource (typically an already-muxed segment file). The creator holds
// the initial reference; every playlist entry that retains the resource
// takes one more via Ref, and eviction hands an extra reference back to
// the caller so the underlying file stays reachable after the in-memory
// entry is gone.
type Handle struct {
	id   string
	uri  string
	refs atomic.Int32

	logger logger.Logger
	// final runs exactly once, when the reference count reaches zero.
	final func()
}

// New creates a handle with one reference. final may be nil; when set it
// is invoked once the last reference is dropped (e.g. to delete the
// underlying segment file).
func New(uri string, log logger.Logger, final func()) *Handle {
	h := &Handle{
		id:     uuid.NewString(),
		uri:    uri,
		logger: log,
		final:  final,
	}
	h.refs.Store(1)
	return h
}

// ID returns the handle's unique identity.
func (h *Handle) ID() string {
	return h.id
}

// URI returns the location of the backing resource.
func (h *Handle) URI() string {
	return h.uri
}

// Refs returns the current reference count.
func (h *Handle) Refs() int {
	return int(h.refs.Load())
}

// Ref takes an additional reference and returns the same handle.
// Referencing an already-finalized handle is a caller bug; it is
// reported through the logger rather than honored.
func (h *Handle) Ref() *Handle {
	for {
		n := h.refs.Load()
		if n <= 0 {
			h.logger.Errorf("Ref on finalized resource handle %s (%s)", h.id, h.uri)
			return h
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return h
		}
	}
}

// Unref drops one reference. The finalizer runs when the count reaches
// zero; dropping below zero is reported and ignored.
func (h *Handle) Unref() {
	n := h.refs.Add(-1)
	switch {
	case n == 0:
		if h.final != nil {
			h.final()
		}
	case n < 0:
		h.refs.Store(0)
		h.logger.Errorf("Unref on finalized resource handle %s (%s)", h.id, h.uri)
	}
}
