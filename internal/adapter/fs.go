package adapter

import (
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/asyncfs/asyncfs/internal/path"
	"github.com/asyncfs/asyncfs/internal/store"
)

// OpenStrategy decides how the backing filesystem open is driven. The
// choice is made at construction so the contract is visible at the
// interface rather than inferred from the calling context.
type OpenStrategy int

const (
	// OpenAsync dispatches the backing open and lets its completion
	// callback resolve the gate later. Use when the constructing context
	// can be suspended and resumed by an external completion.
	OpenAsync OpenStrategy = iota

	// OpenBlocking forces the open to run to full completion before New
	// returns. Required when the constructing context is itself the only
	// one able to drive completions: parking it on the gate would
	// deadlock.
	OpenBlocking
)

// Args configures a mount.
type Args struct {
	// Store is the backing-store capability. Nil means no platform
	// integration was supplied; New fails with ENOSYS.
	Store store.Store

	// Options is the flat mount-time option map. Recognized keys:
	//
	//	type                 PERSISTENT, TEMPORARY or empty (PERSISTENT)
	//	expected_size        unsigned quota hint in bytes, default 0
	//	filesystem_resource  numeric id of an already-open filesystem
	//	SOURCE               path prefix applied to every operation
	//
	// Any other key fails the mount with EINVAL.
	Options map[string]string

	// Strategy selects how the backing open is driven. Ignored when
	// Options carries a valid filesystem_resource, which bypasses the
	// open entirely.
	Strategy OpenStrategy
}

// FS adapts the backing store to a POSIX-style, path-based operation
// surface. Safe for concurrent use: the open gate is the only shared
// mutable state, and each operation scopes its own handles.
type FS struct {
	res    store.Filesystem
	prefix string
	gate   *openGate

	closeOnce sync.Once
}

// removal type bitmask for removeInternal.
const (
	removeFile = 1 << iota
	removeDir
	removeAny = removeFile | removeDir
)

// New mounts a filesystem over the given store. On return with a nil
// error the FS is usable; operations block on the open gate until the
// backing open has a definitive result.
func New(args Args) (*FS, error) {
	if args.Store == nil {
		return nil, syscall.ENOSYS
	}

	f := &FS{gate: newOpenGate()}

	kind := store.KindPersistent
	var quota int64
	for key, value := range args.Options {
		switch key {
		case "type":
			switch value {
			case "PERSISTENT", "":
				kind = store.KindPersistent
			case "TEMPORARY":
				kind = store.KindTemporary
			default:
				// A resource taken on an earlier iteration must not leak
				// when a later option fails the mount.
				f.Close()
				return nil, syscall.EINVAL
			}
		case "expected_size":
			// Tolerant parse: a malformed size degrades to the default
			// hint of zero rather than failing the mount.
			v, _ := strconv.ParseUint(value, 10, 63)
			quota = int64(v)
		case "filesystem_resource":
			id, _ := strconv.ParseUint(value, 10, 64)
			res := args.Store.Filesystem(id)
			if res == nil {
				f.Close()
				return nil, syscall.EINVAL
			}
			res.AddRef()
			f.res = res
		case "SOURCE":
			f.prefix = value
		default:
			f.Close()
			return nil, syscall.EINVAL
		}
	}

	// A pre-opened resource skips the asynchronous open entirely.
	if f.res != nil {
		f.gate.complete(nil)
		return f, nil
	}

	res := args.Store.CreateFilesystem(kind)
	if res == nil {
		return nil, syscall.ENOSYS
	}
	f.res = res

	if args.Strategy == OpenBlocking {
		err := errnoFromCode(res.Open(quota, nil))
		f.gate.complete(err)
		if err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}

	// The completion stores the result before waking waiters; the return
	// code of the dispatch itself is not the open result, so the mount is
	// assumed good until the gate says otherwise.
	res.Open(quota, func(code store.Code) {
		f.gate.complete(errnoFromCode(code))
	})
	return f, nil
}

// OpenResult peeks at the open gate without blocking: whether the backing
// open has resolved, and with what result if so.
func (f *FS) OpenResult() (done bool, err error) {
	return f.gate.result()
}

// Close releases the backing filesystem resource. Idempotent; safe to call
// whatever the open outcome was.
func (f *FS) Close() {
	f.closeOnce.Do(func() {
		if f.res != nil {
			f.res.Release()
		}
	})
}

// Access checks that the entry at p can be opened. The mode is accepted
// but ignored: the backing store has no permission model, so every entry
// is readable, writable and executable. Equivalent to a read-only Open
// with the node discarded.
func (f *FS) Access(p path.Path, mode int) error {
	node, err := f.Open(p, os.O_RDONLY)
	if err != nil {
		return err
	}
	node.Close()
	return nil
}

// Open acquires a handle for p and constructs a Node bound to it,
// delegating flag interpretation (create, truncate, append, exclusive) to
// the node's backing open. The caller owns the returned node.
func (f *FS) Open(p path.Path, flags int) (*Node, error) {
	if err := f.gate.wait(); err != nil {
		return nil, err
	}

	ref, err := f.createRef(p)
	if err != nil {
		return nil, err
	}

	node := newNode(f, ref.take())
	if err := node.init(flags); err != nil {
		node.Close()
		return nil, err
	}
	return node, nil
}

// Mkdir creates the directory at p, non-recursively.
func (f *FS) Mkdir(p path.Path, perm int) error {
	if err := f.gate.wait(); err != nil {
		return err
	}

	// The store reports a permission failure for creating the root; EEXIST
	// is the closer POSIX errno, so the raw result is never surfaced.
	if p.IsRoot() {
		return syscall.EEXIST
	}

	ref, err := f.createRef(p)
	if err != nil {
		return err
	}
	defer ref.release()

	return errnoFromCode(ref.ref.MakeDirectory(false))
}

// Unlink removes the file at p; a directory fails with EISDIR.
func (f *FS) Unlink(p path.Path) error {
	return f.removeInternal(p, removeFile)
}

// Rmdir removes the directory at p; a file fails with ENOTDIR.
func (f *FS) Rmdir(p path.Path) error {
	return f.removeInternal(p, removeDir)
}

// Remove removes the entry at p regardless of its type.
func (f *FS) Remove(p path.Path) error {
	return f.removeInternal(p, removeAny)
}

func (f *FS) removeInternal(p path.Path, removeType int) error {
	if err := f.gate.wait(); err != nil {
		return err
	}

	ref, err := f.createRef(p)
	if err != nil {
		return err
	}
	defer ref.release()

	// Typed removal has to branch on the entry's type before anything is
	// deleted; a failed or unrecognized query means the type check cannot
	// be trusted, so no delete is issued.
	if removeType != removeAny {
		info, code := ref.ref.Query()
		if !code.Ok() {
			return syscall.EINVAL
		}
		switch info.Type {
		case store.TypeDirectory:
			if removeType&removeDir == 0 {
				return syscall.EISDIR
			}
		case store.TypeRegular:
			if removeType&removeFile == 0 {
				return syscall.ENOTDIR
			}
		default:
			return syscall.EINVAL
		}
	}

	return errnoFromCode(ref.ref.Delete())
}

// Rename moves the entry at p to newp. Both handles are acquired up front
// and released on every exit path, including failure of the second
// acquisition or of the backing rename itself.
func (f *FS) Rename(p, newp path.Path) error {
	if err := f.gate.wait(); err != nil {
		return err
	}

	oldRef, err := f.createRef(p)
	if err != nil {
		return err
	}
	defer oldRef.release()

	newRef, err := f.createRef(newp)
	if err != nil {
		return err
	}
	defer newRef.release()

	return errnoFromCode(oldRef.ref.RenameTo(newRef.ref))
}
