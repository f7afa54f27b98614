package adapter

import (
	"syscall"

	"github.com/asyncfs/asyncfs/internal/path"
	"github.com/asyncfs/asyncfs/internal/store"
)

// scopedRef owns one counted reference on a backing-store handle for the
// duration of a single operation. Release is idempotent, so a deferred
// release pairs safely with an explicit ownership transfer: every exit
// path drops the reference exactly once.
type scopedRef struct {
	ref      store.FileRef
	released bool
}

// createRef resolves the virtual path against the mount prefix and mints a
// scoped handle for it. Returns ENOENT when the store cannot produce a
// handle for the resolved path.
func (f *FS) createRef(p path.Path) (*scopedRef, error) {
	ref := f.res.CreateRef(p.Prepend(f.prefix).Join())
	if ref == nil {
		return nil, syscall.ENOENT
	}
	return &scopedRef{ref: ref}, nil
}

// release drops the scoped reference. Safe to call more than once; only
// the first call reaches the store.
func (s *scopedRef) release() {
	if s.released {
		return
	}
	s.released = true
	s.ref.Release()
}

// take transfers ownership of the underlying handle to the caller,
// disarming the scoped release. The caller becomes responsible for the
// reference.
func (s *scopedRef) take() store.FileRef {
	s.released = true
	return s.ref
}
