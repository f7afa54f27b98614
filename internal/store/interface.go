package store

import (
	"time"
)

// Kind selects which backing filesystem a Store provisions.
type Kind int

const (
	// KindPersistent survives across mounts; the default.
	KindPersistent Kind = iota
	// KindTemporary may be reclaimed by the store at any time after unmount.
	KindTemporary
)

func (k Kind) String() string {
	switch k {
	case KindPersistent:
		return "PERSISTENT"
	case KindTemporary:
		return "TEMPORARY"
	default:
		return "UNKNOWN"
	}
}

// FileType classifies a path entry as reported by FileRef.Query.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDirectory
)

// FileInfo is the metadata a store reports for one path entry.
type FileInfo struct {
	Type    FileType
	Size    int64
	ModTime time.Time
}

// CompletionFunc receives the final code of an asynchronous filesystem
// open. Implementations invoke it exactly once, after the result is
// durable, and never with CodeOKPending.
type CompletionFunc func(Code)

// Store is the root capability of a backing store.
type Store interface {
	// CreateFilesystem provisions a new, not-yet-open filesystem resource
	// of the given kind. It returns nil when the store cannot provide the
	// capability (no platform integration available).
	CreateFilesystem(kind Kind) Filesystem

	// Filesystem resolves an already-open filesystem resource by id, as
	// handed out by Filesystem.ID. It returns nil for ids that do not name
	// a valid open filesystem. The returned resource is not AddRef'd;
	// callers that keep it must take their own reference.
	Filesystem(id uint64) Filesystem
}

// Filesystem is one backing filesystem resource. It is reference counted:
// the creating call owns one reference, and the resource stays valid until
// every reference has been released.
type Filesystem interface {
	// ID is the opaque numeric identity of this resource, resolvable
	// through Store.Filesystem for as long as the resource is open.
	ID() uint64

	// Open provisions the backing storage, honoring the quota hint in
	// bytes. With a nil completion it blocks until the open has fully
	// finished and returns the final code. With a non-nil completion it
	// may return CodeOKPending and deliver the final code through the
	// callback; it may also complete inline, in which case the callback
	// still fires with the returned code. Open is called at most once.
	Open(quota int64, done CompletionFunc) Code

	// CreateRef mints a handle for the entry named by path. The path is a
	// full backing path (the adapter resolves prefixes before calling).
	// Returns nil when no handle can be created. The caller owns one
	// reference on the returned handle.
	CreateRef(path string) FileRef

	AddRef()
	Release()
}

// FileRef is a reference-counted handle naming one path entry. Handles are
// transient: the adapter scopes each to a single operation and never
// persists them.
type FileRef interface {
	// Path returns the full backing path the handle was created for.
	Path() string

	// MakeDirectory creates the named directory. With recursive set,
	// missing ancestors are created as well.
	MakeDirectory(recursive bool) Code

	// Delete removes the entry, file or directory alike.
	Delete() Code

	// RenameTo moves the entry to the path named by dst.
	RenameTo(dst FileRef) Code

	// Query reports the entry's type and size. A non-OK code means the
	// entry could not be examined; the FileInfo is then meaningless.
	Query() (FileInfo, Code)

	// OpenFile opens the entry for byte I/O, interpreting open flags
	// (os.O_CREATE, os.O_TRUNC, os.O_APPEND, os.O_EXCL and the access
	// mode). The caller owns the returned File.
	OpenFile(flags int) (File, Code)

	AddRef()
	Release()
}

// File is an open file produced by FileRef.OpenFile. Byte-level I/O is
// synchronous at this layer.
type File interface {
	ReadAt(p []byte, off int64) (int, Code)
	WriteAt(p []byte, off int64) (int, Code)
	Truncate(size int64) Code
	Flush() Code
	Query() (FileInfo, Code)
	Close()
}
