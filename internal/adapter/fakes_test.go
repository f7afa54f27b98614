package adapter

import (
	"sync"

	"github.com/asyncfs/asyncfs/internal/store"
)

// Scripted store fakes. Every call is recorded so tests can assert not
// just on results but on which backing calls were (or were not) issued.

type fakeStore struct {
	mu sync.Mutex

	// fs is handed out by CreateFilesystem; nil simulates a store with no
	// filesystem capability.
	fs *fakeFilesystem

	// registry backs Filesystem lookups by id.
	registry map[uint64]*fakeFilesystem

	createCalls int
	createKinds []store.Kind
}

func (s *fakeStore) CreateFilesystem(kind store.Kind) store.Filesystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.createKinds = append(s.createKinds, kind)
	if s.fs == nil {
		return nil
	}
	return s.fs
}

func (s *fakeStore) Filesystem(id uint64) store.Filesystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.registry[id]
	if !ok {
		return nil
	}
	return fs
}

type fakeFilesystem struct {
	mu sync.Mutex

	id       uint64
	openCode store.Code

	// holdOpen, when non-nil, parks asynchronous opens until a code is
	// sent on it. Lets tests exercise callers blocked on the gate.
	holdOpen chan store.Code

	openCalls int
	addRefs   int
	releases  int

	// refs scripts CreateRef: paths mapped to nil produce no handle.
	noRef map[string]bool

	// entries scripts Query results per path.
	entries map[string]fakeEntry

	// codes script the mutating calls per path.
	mkdirCode  store.Code
	deleteCode store.Code
	renameCode store.Code
	openFile   store.Code

	// call log
	mkdirs  []string
	deletes []string
	renames [][2]string
	queries []string

	// minted handles, for release accounting.
	minted []*fakeRef
}

type fakeEntry struct {
	info store.FileInfo
	code store.Code
}

func (f *fakeFilesystem) ID() uint64 { return f.id }

func (f *fakeFilesystem) Open(quota int64, done store.CompletionFunc) store.Code {
	f.mu.Lock()
	f.openCalls++
	hold := f.holdOpen
	code := f.openCode
	f.mu.Unlock()

	if done == nil {
		return code
	}
	if hold != nil {
		go func() {
			done(<-hold)
		}()
		return store.CodeOKPending
	}
	done(code)
	return store.CodeOKPending
}

func (f *fakeFilesystem) CreateRef(path string) store.FileRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noRef[path] {
		return nil
	}
	ref := &fakeRef{fs: f, path: path, refs: 1}
	f.minted = append(f.minted, ref)
	return ref
}

func (f *fakeFilesystem) AddRef() {
	f.mu.Lock()
	f.addRefs++
	f.mu.Unlock()
}

func (f *fakeFilesystem) Release() {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
}

// leakedRefs reports minted handles whose reference count never reached
// zero, plus any that were over-released.
func (f *fakeFilesystem) leakedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var leaked []string
	for _, ref := range f.minted {
		if ref.refs != 0 {
			leaked = append(leaked, ref.path)
		}
	}
	return leaked
}

type fakeRef struct {
	fs   *fakeFilesystem
	path string
	refs int
}

func (r *fakeRef) Path() string { return r.path }

func (r *fakeRef) AddRef() {
	r.fs.mu.Lock()
	r.refs++
	r.fs.mu.Unlock()
}

func (r *fakeRef) Release() {
	r.fs.mu.Lock()
	r.refs--
	r.fs.mu.Unlock()
}

func (r *fakeRef) MakeDirectory(recursive bool) store.Code {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	r.fs.mkdirs = append(r.fs.mkdirs, r.path)
	return r.fs.mkdirCode
}

func (r *fakeRef) Delete() store.Code {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	r.fs.deletes = append(r.fs.deletes, r.path)
	return r.fs.deleteCode
}

func (r *fakeRef) RenameTo(dst store.FileRef) store.Code {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	r.fs.renames = append(r.fs.renames, [2]string{r.path, dst.Path()})
	return r.fs.renameCode
}

func (r *fakeRef) Query() (store.FileInfo, store.Code) {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	r.fs.queries = append(r.fs.queries, r.path)
	ent, ok := r.fs.entries[r.path]
	if !ok {
		return store.FileInfo{}, store.CodeNotFound
	}
	return ent.info, ent.code
}

func (r *fakeRef) OpenFile(flags int) (store.File, store.Code) {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()
	if !r.fs.openFile.Ok() {
		return nil, r.fs.openFile
	}
	return &fakeFile{}, store.CodeOK
}

type fakeFile struct {
	closed bool
}

func (f *fakeFile) ReadAt(p []byte, off int64) (int, store.Code)  { return 0, store.CodeOK }
func (f *fakeFile) WriteAt(p []byte, off int64) (int, store.Code) { return len(p), store.CodeOK }
func (f *fakeFile) Truncate(size int64) store.Code                { return store.CodeOK }
func (f *fakeFile) Flush() store.Code                             { return store.CodeOK }
func (f *fakeFile) Query() (store.FileInfo, store.Code) {
	return store.FileInfo{Type: store.TypeRegular}, store.CodeOK
}
func (f *fakeFile) Close() { f.closed = true }

// newFakeStore wires a store with one scriptable filesystem behind it.
func newFakeStore() (*fakeStore, *fakeFilesystem) {
	fs := &fakeFilesystem{
		id:       1,
		noRef:    map[string]bool{},
		entries:  map[string]fakeEntry{},
		openFile: store.CodeOK,
	}
	st := &fakeStore{fs: fs, registry: map[uint64]*fakeFilesystem{}}
	return st, fs
}
