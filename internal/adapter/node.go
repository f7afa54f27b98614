package adapter

import (
	"sync"

	"github.com/asyncfs/asyncfs/internal/store"
)

// Node is a successfully opened file. It owns one counted reference on the
// handle it was opened through and the backing File produced by init; both
// are dropped exactly once by Close.
type Node struct {
	fs   *FS
	ref  store.FileRef
	file store.File

	closeOnce sync.Once
}

// newNode takes ownership of one counted reference on ref.
func newNode(f *FS, ref store.FileRef) *Node {
	return &Node{fs: f, ref: ref}
}

// init opens the backing file, letting the store interpret the open flags
// (create, truncate, append, exclusive and the access mode).
func (n *Node) init(flags int) error {
	file, code := n.ref.OpenFile(flags)
	if !code.Ok() {
		return errnoFromCode(code)
	}
	n.file = file
	return nil
}

// Path returns the full backing path the node was opened at.
func (n *Node) Path() string { return n.ref.Path() }

// ReadAt reads up to len(p) bytes at the given offset. A short count with a
// nil error means end of file.
func (n *Node) ReadAt(p []byte, off int64) (int, error) {
	cnt, code := n.file.ReadAt(p, off)
	return cnt, errnoFromCode(code)
}

// WriteAt writes len(p) bytes at the given offset, extending the file as
// needed.
func (n *Node) WriteAt(p []byte, off int64) (int, error) {
	cnt, code := n.file.WriteAt(p, off)
	return cnt, errnoFromCode(code)
}

// Truncate sets the file's length.
func (n *Node) Truncate(size int64) error {
	return errnoFromCode(n.file.Truncate(size))
}

// Stat reports the entry's current metadata.
func (n *Node) Stat() (store.FileInfo, error) {
	info, code := n.file.Query()
	return info, errnoFromCode(code)
}

// Sync flushes buffered writes through to the store.
func (n *Node) Sync() error {
	return errnoFromCode(n.file.Flush())
}

// Close releases the backing file and the node's handle reference.
// Idempotent. Safe on a node whose init failed (no file was opened).
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		if n.file != nil {
			n.file.Close()
		}
		n.ref.Release()
	})
}
