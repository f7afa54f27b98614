// Package memory provides an in-process implementation of the backing
// store capabilities. It backs mem:// mounts and the test suite: behavior
// matches the capability contracts exactly, including reference counting
// and inline completion of filesystem opens.
package memory

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/asyncfs/asyncfs/internal/store"
)

// Store is an in-process backing store. Filesystems it provisions are
// resolvable by id through Filesystem for as long as a reference to them
// is held.
type Store struct {
	mu     sync.Mutex
	nextID uint64
	open   map[uint64]*Filesystem

	// OpenResult, when non-OK, is reported by every filesystem open. Lets
	// tests exercise the failure path of the open gate.
	OpenResult store.Code
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{open: make(map[uint64]*Filesystem)}
}

// CreateFilesystem provisions a new, unopened filesystem resource with one
// counted reference.
func (s *Store) CreateFilesystem(kind store.Kind) store.Filesystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	fs := &Filesystem{
		store:   s,
		id:      s.nextID,
		kind:    kind,
		refs:    1,
		entries: map[string]*entry{"/": {typ: store.TypeDirectory, modTime: time.Now()}},
	}
	s.open[fs.id] = fs
	return fs
}

// Filesystem resolves an open filesystem by id. Unknown or already-released
// ids resolve to nil. The untyped-nil dance matters: a nil *Filesystem in a
// store.Filesystem interface would not compare equal to nil.
func (s *Store) Filesystem(id uint64) store.Filesystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.open[id]
	if !ok || !fs.opened {
		return nil
	}
	return fs
}

type entry struct {
	typ     store.FileType
	data    []byte
	modTime time.Time
}

// Filesystem is one in-memory filesystem tree.
type Filesystem struct {
	store *Store
	id    uint64
	kind  store.Kind

	mu      sync.Mutex
	refs    int
	opened  bool
	quota   int64
	entries map[string]*entry

	// liveRefs counts outstanding FileRef references, for leak assertions
	// in tests.
	liveRefs int
}

// ID implements store.Filesystem.
func (f *Filesystem) ID() uint64 { return f.id }

// Kind reports which kind the filesystem was provisioned as.
func (f *Filesystem) Kind() store.Kind { return f.kind }

// Open marks the tree usable. Completion is inline: with a callback the
// final code is delivered through it before Open returns, which the
// capability contract permits.
func (f *Filesystem) Open(quota int64, done store.CompletionFunc) store.Code {
	code := f.store.OpenResult
	f.mu.Lock()
	if code.Ok() {
		f.opened = true
		f.quota = quota
	}
	f.mu.Unlock()
	if done != nil {
		done(code)
	}
	return code
}

// CreateRef mints a handle for the cleaned path. Handles are minted for
// any well-formed path, existing or not; only a path that cannot be
// normalized yields nil.
func (f *Filesystem) CreateRef(p string) store.FileRef {
	cleaned, ok := cleanPath(p)
	if !ok {
		return nil
	}
	f.mu.Lock()
	f.liveRefs++
	f.mu.Unlock()
	return &fileRef{fs: f, path: cleaned, refs: 1}
}

// AddRef implements store.Filesystem.
func (f *Filesystem) AddRef() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

// Release drops one reference; the last one unregisters the filesystem
// from its store.
func (f *Filesystem) Release() {
	f.mu.Lock()
	f.refs--
	last := f.refs == 0
	f.mu.Unlock()
	if last {
		f.store.mu.Lock()
		delete(f.store.open, f.id)
		f.store.mu.Unlock()
	}
}

// LiveRefs reports the number of outstanding FileRef references.
func (f *Filesystem) LiveRefs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveRefs
}

// cleanPath normalizes p to a rooted, slash-joined form with no empty
// segments. Paths traversing above the root are rejected.
func cleanPath(p string) (string, bool) {
	segs := make([]string, 0, 8)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) == 0 {
				return "", false
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, seg)
		}
	}
	return "/" + strings.Join(segs, "/"), true
}

func parentOf(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

type fileRef struct {
	fs   *Filesystem
	path string

	mu   sync.Mutex
	refs int
}

func (r *fileRef) Path() string { return r.path }

func (r *fileRef) AddRef() {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
}

func (r *fileRef) Release() {
	r.mu.Lock()
	r.refs--
	last := r.refs == 0
	r.mu.Unlock()
	if last {
		r.fs.mu.Lock()
		r.fs.liveRefs--
		r.fs.mu.Unlock()
	}
}

func (r *fileRef) MakeDirectory(recursive bool) store.Code {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()

	if r.path == "/" {
		// Creating the root is a permission failure, matching stores that
		// own their root directory.
		return store.CodeNoAccess
	}
	if _, exists := r.fs.entries[r.path]; exists {
		return store.CodeFileExists
	}
	if recursive {
		p := r.path
		missing := []string{}
		for p != "/" {
			if _, ok := r.fs.entries[p]; ok {
				break
			}
			missing = append(missing, p)
			p = parentOf(p)
		}
		for i := len(missing) - 1; i >= 0; i-- {
			r.fs.entries[missing[i]] = &entry{typ: store.TypeDirectory, modTime: time.Now()}
		}
		return store.CodeOK
	}
	parent, ok := r.fs.entries[parentOf(r.path)]
	if !ok || parent.typ != store.TypeDirectory {
		return store.CodeNotFound
	}
	r.fs.entries[r.path] = &entry{typ: store.TypeDirectory, modTime: time.Now()}
	return store.CodeOK
}

func (r *fileRef) Delete() store.Code {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()

	ent, ok := r.fs.entries[r.path]
	if !ok {
		return store.CodeNotFound
	}
	if ent.typ == store.TypeDirectory {
		prefix := r.path + "/"
		if r.path == "/" {
			return store.CodeNoAccess
		}
		for other := range r.fs.entries {
			if strings.HasPrefix(other, prefix) {
				return store.CodeFailed
			}
		}
	}
	delete(r.fs.entries, r.path)
	return store.CodeOK
}

func (r *fileRef) RenameTo(dst store.FileRef) store.Code {
	target, ok := dst.(*fileRef)
	if !ok || target.fs != r.fs {
		return store.CodeBadResource
	}

	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()

	ent, ok := r.fs.entries[r.path]
	if !ok {
		return store.CodeNotFound
	}
	if parent, ok := r.fs.entries[parentOf(target.path)]; !ok || parent.typ != store.TypeDirectory {
		return store.CodeNotFound
	}

	delete(r.fs.entries, r.path)
	r.fs.entries[target.path] = ent
	if ent.typ == store.TypeDirectory {
		// Move the subtree along with the directory itself.
		oldPrefix, newPrefix := r.path+"/", target.path+"/"
		for old, child := range r.fs.entries {
			if strings.HasPrefix(old, oldPrefix) {
				delete(r.fs.entries, old)
				r.fs.entries[newPrefix+old[len(oldPrefix):]] = child
			}
		}
	}
	ent.modTime = time.Now()
	return store.CodeOK
}

func (r *fileRef) Query() (store.FileInfo, store.Code) {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()

	ent, ok := r.fs.entries[r.path]
	if !ok {
		return store.FileInfo{}, store.CodeNotFound
	}
	return store.FileInfo{
		Type:    ent.typ,
		Size:    int64(len(ent.data)),
		ModTime: ent.modTime,
	}, store.CodeOK
}

func (r *fileRef) OpenFile(flags int) (store.File, store.Code) {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()

	ent, exists := r.fs.entries[r.path]
	switch {
	case exists && flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		return nil, store.CodeFileExists
	case !exists && flags&os.O_CREATE == 0:
		return nil, store.CodeNotFound
	case !exists:
		parent, ok := r.fs.entries[parentOf(r.path)]
		if !ok || parent.typ != store.TypeDirectory {
			return nil, store.CodeNotFound
		}
		ent = &entry{typ: store.TypeRegular, modTime: time.Now()}
		r.fs.entries[r.path] = ent
	}

	if ent.typ == store.TypeDirectory {
		// Directories open read-only so existence checks succeed; any
		// write lands on CodeFailed in file.WriteAt.
		if flags&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, store.CodeFailed
		}
		return &file{fs: r.fs, ent: ent, dir: true}, store.CodeOK
	}

	if flags&os.O_TRUNC != 0 {
		ent.data = nil
		ent.modTime = time.Now()
	}
	return &file{fs: r.fs, ent: ent, appendMode: flags&os.O_APPEND != 0}, store.CodeOK
}

type file struct {
	fs         *Filesystem
	ent        *entry
	dir        bool
	appendMode bool
	closed     bool
}

func (f *file) ReadAt(p []byte, off int64) (int, store.Code) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, store.CodeBadResource
	}
	if off >= int64(len(f.ent.data)) {
		return 0, store.CodeOK
	}
	return copy(p, f.ent.data[off:]), store.CodeOK
}

func (f *file) WriteAt(p []byte, off int64) (int, store.Code) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return 0, store.CodeBadResource
	}
	if f.dir {
		return 0, store.CodeFailed
	}
	if f.appendMode {
		off = int64(len(f.ent.data))
	}
	if need := off + int64(len(p)); need > int64(len(f.ent.data)) {
		if f.fs.quota > 0 && need > f.fs.quota {
			return 0, store.CodeNoQuota
		}
		grown := make([]byte, need)
		copy(grown, f.ent.data)
		f.ent.data = grown
	}
	copy(f.ent.data[off:], p)
	f.ent.modTime = time.Now()
	return len(p), store.CodeOK
}

func (f *file) Truncate(size int64) store.Code {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed || f.dir {
		return store.CodeFailed
	}
	switch {
	case size <= int64(len(f.ent.data)):
		f.ent.data = f.ent.data[:size]
	default:
		grown := make([]byte, size)
		copy(grown, f.ent.data)
		f.ent.data = grown
	}
	f.ent.modTime = time.Now()
	return store.CodeOK
}

func (f *file) Flush() store.Code {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return store.CodeBadResource
	}
	return store.CodeOK
}

func (f *file) Query() (store.FileInfo, store.Code) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.closed {
		return store.FileInfo{}, store.CodeBadResource
	}
	typ := store.TypeRegular
	if f.dir {
		typ = store.TypeDirectory
	}
	return store.FileInfo{Type: typ, Size: int64(len(f.ent.data)), ModTime: f.ent.modTime}, store.CodeOK
}

func (f *file) Close() {
	f.fs.mu.Lock()
	f.closed = true
	f.fs.mu.Unlock()
}
