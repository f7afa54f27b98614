// Package fuse bridges a mounted adapter filesystem into the kernel via
// go-fuse. It is the dispatch layer: it routes POSIX calls to the adapter
// and exposes the adapter's errnos verbatim to the kernel.
//
// The backing store has no listing capability at this layer, so Readdir
// reports ENOSYS; everything path-addressed (lookup, create, remove,
// rename, I/O) works normally.
package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/asyncfs/asyncfs/internal/adapter"
	"github.com/asyncfs/asyncfs/internal/metrics"
	vpath "github.com/asyncfs/asyncfs/internal/path"
	"github.com/asyncfs/asyncfs/internal/store"
)

// Bridge wires one adapter.FS into a FUSE mount.
type Bridge struct {
	adapter   *adapter.FS
	collector *metrics.Collector
}

// NewBridge creates a bridge over the given filesystem. The collector may
// be a disabled one but must not be nil.
func NewBridge(afs *adapter.FS, collector *metrics.Collector) *Bridge {
	return &Bridge{adapter: afs, collector: collector}
}

// Root returns the root inode for mounting.
func (b *Bridge) Root() fs.InodeEmbedder {
	return &node{bridge: b, path: vpath.Root()}
}

func (b *Bridge) record(op string, start time.Time, errno syscall.Errno) syscall.Errno {
	var err error
	if errno != 0 {
		err = errno
	}
	b.collector.RecordOperation(op, time.Since(start), err)
	return errno
}

// toErrno collapses adapter errors onto FUSE status codes. Adapter errors
// are already syscall.Errno values; anything else is a bridge bug and
// surfaces as EIO.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}

// node is one kernel-visible path entry.
type node struct {
	fs.Inode
	bridge *Bridge
	path   vpath.Path
}

var (
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeAccesser  = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
)

func (n *node) child(name string) vpath.Path {
	return vpath.New(n.path.Join() + "/" + name)
}

// stat opens the entry read-only just long enough to query it.
func (n *node) stat(p vpath.Path) (store.FileInfo, syscall.Errno) {
	handle, err := n.bridge.adapter.Open(p, os.O_RDONLY)
	if err != nil {
		return store.FileInfo{}, toErrno(err)
	}
	defer handle.Close()
	info, err := handle.Stat()
	return info, toErrno(err)
}

func fillAttr(info store.FileInfo, attr *fuse.Attr) {
	attr.Size = uint64(info.Size)
	mtime := uint64(info.ModTime.Unix())
	attr.Mtime, attr.Ctime, attr.Atime = mtime, mtime, mtime
	if info.Type == store.TypeDirectory {
		attr.Mode = fuse.S_IFDIR | 0755
	} else {
		attr.Mode = fuse.S_IFREG | 0644
	}
}

func (n *node) newChildInode(ctx context.Context, p vpath.Path, info store.FileInfo) *fs.Inode {
	mode := uint32(fuse.S_IFREG)
	if info.Type == store.TypeDirectory {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, &node{bridge: n.bridge, path: p}, fs.StableAttr{Mode: mode})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	child := n.child(name)
	info, errno := n.stat(child)
	if errno != 0 {
		return nil, n.bridge.record("lookup", start, errno)
	}
	fillAttr(info, &out.Attr)
	n.bridge.record("lookup", start, 0)
	return n.newChildInode(ctx, child, info), 0
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	start := time.Now()
	if handle, ok := fh.(*fileHandle); ok {
		info, err := handle.node.Stat()
		if err != nil {
			return n.bridge.record("getattr", start, toErrno(err))
		}
		fillAttr(info, &out.Attr)
		return n.bridge.record("getattr", start, 0)
	}
	info, errno := n.stat(n.path)
	if errno != 0 {
		return n.bridge.record("getattr", start, errno)
	}
	fillAttr(info, &out.Attr)
	return n.bridge.record("getattr", start, 0)
}

func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	start := time.Now()
	err := n.bridge.adapter.Access(n.path, int(mask))
	return n.bridge.record("access", start, toErrno(err))
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	child := n.child(name)
	if err := n.bridge.adapter.Mkdir(child, int(mode)); err != nil {
		return nil, n.bridge.record("mkdir", start, toErrno(err))
	}
	out.Attr.Mode = fuse.S_IFDIR | 0755
	n.bridge.record("mkdir", start, 0)
	return n.newChildInode(ctx, child, store.FileInfo{Type: store.TypeDirectory}), 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	start := time.Now()
	err := n.bridge.adapter.Rmdir(n.child(name))
	return n.bridge.record("rmdir", start, toErrno(err))
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	start := time.Now()
	err := n.bridge.adapter.Unlink(n.child(name))
	return n.bridge.record("unlink", start, toErrno(err))
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	start := time.Now()
	target, ok := newParent.(*node)
	if !ok {
		return n.bridge.record("rename", start, syscall.EXDEV)
	}
	err := n.bridge.adapter.Rename(n.child(name), target.child(newName))
	return n.bridge.record("rename", start, toErrno(err))
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	child := n.child(name)
	handle, err := n.bridge.adapter.Open(child, int(flags)|os.O_CREATE)
	if err != nil {
		return nil, nil, 0, n.bridge.record("create", start, toErrno(err))
	}
	out.Attr.Mode = fuse.S_IFREG | 0644
	n.bridge.record("create", start, 0)
	inode := n.newChildInode(ctx, child, store.FileInfo{Type: store.TypeRegular})
	return inode, &fileHandle{node: handle}, 0, 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	handle, err := n.bridge.adapter.Open(n.path, int(flags))
	if err != nil {
		return nil, 0, n.bridge.record("open", start, toErrno(err))
	}
	n.bridge.record("open", start, 0)
	return &fileHandle{node: handle}, 0, 0
}

func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	start := time.Now()
	if size, ok := in.GetSize(); ok {
		handle, isOpen := fh.(*fileHandle)
		if !isOpen {
			opened, err := n.bridge.adapter.Open(n.path, os.O_WRONLY)
			if err != nil {
				return n.bridge.record("setattr", start, toErrno(err))
			}
			defer opened.Close()
			handle = &fileHandle{node: opened}
		}
		if err := handle.node.Truncate(int64(size)); err != nil {
			return n.bridge.record("setattr", start, toErrno(err))
		}
		out.Attr.Size = size
	}
	// Ownership and mode changes have nothing to land on: the store keeps
	// no permission bits. Accept and ignore them.
	return n.bridge.record("setattr", start, 0)
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return nil, syscall.ENOSYS
}

// fileHandle is an open file passed back to the kernel.
type fileHandle struct {
	node *adapter.Node
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileFlusher  = (*fileHandle)(nil)
	_ fs.FileFsyncer  = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	cnt, err := h.node.ReadAt(dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:cnt]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	cnt, err := h.node.WriteAt(data, off)
	return uint32(cnt), toErrno(err)
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return toErrno(h.node.Sync())
}

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return toErrno(h.node.Sync())
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.node.Close()
	return 0
}
