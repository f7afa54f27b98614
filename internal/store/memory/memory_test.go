package memory

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncfs/asyncfs/internal/store"
)

func openFS(t *testing.T) *Filesystem {
	t.Helper()
	s := NewStore()
	fs := s.CreateFilesystem(store.KindPersistent).(*Filesystem)
	require.True(t, fs.Open(0, nil).Ok())
	return fs
}

func mkdir(t *testing.T, fs *Filesystem, p string) {
	t.Helper()
	ref := fs.CreateRef(p)
	require.NotNil(t, ref)
	defer ref.Release()
	require.Equal(t, store.CodeOK, ref.MakeDirectory(false))
}

func writeFile(t *testing.T, fs *Filesystem, p string, data []byte) {
	t.Helper()
	ref := fs.CreateRef(p)
	require.NotNil(t, ref)
	defer ref.Release()
	file, code := ref.OpenFile(os.O_WRONLY | os.O_CREATE | os.O_TRUNC)
	require.Equal(t, store.CodeOK, code)
	defer file.Close()
	_, code = file.WriteAt(data, 0)
	require.Equal(t, store.CodeOK, code)
}

func TestStoreFilesystemLookup(t *testing.T) {
	s := NewStore()
	fs := s.CreateFilesystem(store.KindTemporary).(*Filesystem)

	// Unopened filesystems do not resolve.
	assert.Nil(t, s.Filesystem(fs.ID()))

	require.True(t, fs.Open(0, nil).Ok())
	assert.Equal(t, store.Filesystem(fs), s.Filesystem(fs.ID()))
	assert.Nil(t, s.Filesystem(fs.ID()+1))

	// Releasing the last reference unregisters the id.
	fs.Release()
	assert.Nil(t, s.Filesystem(fs.ID()))
}

func TestOpenFailureScripted(t *testing.T) {
	s := NewStore()
	s.OpenResult = store.CodeNoSpace
	fs := s.CreateFilesystem(store.KindPersistent)

	var got store.Code
	ret := fs.Open(0, func(code store.Code) { got = code })
	assert.Equal(t, store.CodeNoSpace, ret)
	assert.Equal(t, store.CodeNoSpace, got)
	assert.Nil(t, s.Filesystem(fs.ID()))
}

func TestCreateRefNormalizes(t *testing.T) {
	fs := openFS(t)

	ref := fs.CreateRef("/a/./b//c/..")
	require.NotNil(t, ref)
	assert.Equal(t, "/a/b", ref.Path())
	ref.Release()

	// Escaping the root is not representable.
	assert.Nil(t, fs.CreateRef("/../etc"))
	assert.Zero(t, fs.LiveRefs())
}

func TestMakeDirectory(t *testing.T) {
	fs := openFS(t)

	t.Run("creates under root", func(t *testing.T) {
		mkdir(t, fs, "/dir")
		ref := fs.CreateRef("/dir")
		defer ref.Release()
		info, code := ref.Query()
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, store.TypeDirectory, info.Type)
	})

	t.Run("existing entry", func(t *testing.T) {
		ref := fs.CreateRef("/dir")
		defer ref.Release()
		assert.Equal(t, store.CodeFileExists, ref.MakeDirectory(false))
	})

	t.Run("root", func(t *testing.T) {
		ref := fs.CreateRef("/")
		defer ref.Release()
		assert.Equal(t, store.CodeNoAccess, ref.MakeDirectory(false))
	})

	t.Run("missing parent", func(t *testing.T) {
		ref := fs.CreateRef("/no/such/leaf")
		defer ref.Release()
		assert.Equal(t, store.CodeNotFound, ref.MakeDirectory(false))
	})

	t.Run("recursive creates ancestors", func(t *testing.T) {
		ref := fs.CreateRef("/deep/nested/leaf")
		defer ref.Release()
		require.Equal(t, store.CodeOK, ref.MakeDirectory(true))

		mid := fs.CreateRef("/deep/nested")
		defer mid.Release()
		info, code := mid.Query()
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, store.TypeDirectory, info.Type)
	})
}

func TestDelete(t *testing.T) {
	fs := openFS(t)

	t.Run("file", func(t *testing.T) {
		writeFile(t, fs, "/file", []byte("x"))
		ref := fs.CreateRef("/file")
		defer ref.Release()
		assert.Equal(t, store.CodeOK, ref.Delete())
		_, code := ref.Query()
		assert.Equal(t, store.CodeNotFound, code)
	})

	t.Run("missing", func(t *testing.T) {
		ref := fs.CreateRef("/gone")
		defer ref.Release()
		assert.Equal(t, store.CodeNotFound, ref.Delete())
	})

	t.Run("empty directory", func(t *testing.T) {
		mkdir(t, fs, "/empty")
		ref := fs.CreateRef("/empty")
		defer ref.Release()
		assert.Equal(t, store.CodeOK, ref.Delete())
	})

	t.Run("non-empty directory", func(t *testing.T) {
		mkdir(t, fs, "/full")
		writeFile(t, fs, "/full/file", []byte("x"))
		ref := fs.CreateRef("/full")
		defer ref.Release()
		assert.Equal(t, store.CodeFailed, ref.Delete())
	})

	t.Run("root", func(t *testing.T) {
		ref := fs.CreateRef("/")
		defer ref.Release()
		assert.Equal(t, store.CodeNoAccess, ref.Delete())
	})
}

func TestRenameTo(t *testing.T) {
	fs := openFS(t)

	t.Run("file", func(t *testing.T) {
		writeFile(t, fs, "/src", []byte("payload"))
		src := fs.CreateRef("/src")
		dst := fs.CreateRef("/dst")
		defer src.Release()
		defer dst.Release()
		require.Equal(t, store.CodeOK, src.RenameTo(dst))

		_, code := src.Query()
		assert.Equal(t, store.CodeNotFound, code)
		info, code := dst.Query()
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, int64(len("payload")), info.Size)
	})

	t.Run("directory moves subtree", func(t *testing.T) {
		mkdir(t, fs, "/olddir")
		writeFile(t, fs, "/olddir/inner", []byte("x"))
		src := fs.CreateRef("/olddir")
		dst := fs.CreateRef("/newdir")
		defer src.Release()
		defer dst.Release()
		require.Equal(t, store.CodeOK, src.RenameTo(dst))

		moved := fs.CreateRef("/newdir/inner")
		defer moved.Release()
		_, code := moved.Query()
		assert.Equal(t, store.CodeOK, code)
	})

	t.Run("missing source", func(t *testing.T) {
		src := fs.CreateRef("/nothing")
		dst := fs.CreateRef("/elsewhere")
		defer src.Release()
		defer dst.Release()
		assert.Equal(t, store.CodeNotFound, src.RenameTo(dst))
	})

	t.Run("cross filesystem", func(t *testing.T) {
		other := openFS(t)
		writeFile(t, fs, "/local", []byte("x"))
		src := fs.CreateRef("/local")
		dst := other.CreateRef("/remote")
		defer src.Release()
		defer dst.Release()
		assert.Equal(t, store.CodeBadResource, src.RenameTo(dst))
	})
}

func TestOpenFile(t *testing.T) {
	fs := openFS(t)

	t.Run("missing without create", func(t *testing.T) {
		ref := fs.CreateRef("/nope")
		defer ref.Release()
		_, code := ref.OpenFile(os.O_RDONLY)
		assert.Equal(t, store.CodeNotFound, code)
	})

	t.Run("exclusive create on existing", func(t *testing.T) {
		writeFile(t, fs, "/exists", nil)
		ref := fs.CreateRef("/exists")
		defer ref.Release()
		_, code := ref.OpenFile(os.O_WRONLY | os.O_CREATE | os.O_EXCL)
		assert.Equal(t, store.CodeFileExists, code)
	})

	t.Run("create requires directory parent", func(t *testing.T) {
		ref := fs.CreateRef("/no/parent")
		defer ref.Release()
		_, code := ref.OpenFile(os.O_WRONLY | os.O_CREATE)
		assert.Equal(t, store.CodeNotFound, code)
	})

	t.Run("truncate clears contents", func(t *testing.T) {
		writeFile(t, fs, "/trunc", []byte("old contents"))
		ref := fs.CreateRef("/trunc")
		defer ref.Release()
		file, code := ref.OpenFile(os.O_WRONLY | os.O_TRUNC)
		require.Equal(t, store.CodeOK, code)
		defer file.Close()
		info, code := file.Query()
		require.Equal(t, store.CodeOK, code)
		assert.Zero(t, info.Size)
	})

	t.Run("directory read-only", func(t *testing.T) {
		mkdir(t, fs, "/d")
		ref := fs.CreateRef("/d")
		defer ref.Release()

		_, code := ref.OpenFile(os.O_WRONLY)
		assert.Equal(t, store.CodeFailed, code)

		file, code := ref.OpenFile(os.O_RDONLY)
		require.Equal(t, store.CodeOK, code)
		defer file.Close()
		info, code := file.Query()
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, store.TypeDirectory, info.Type)
	})
}

func TestFileIO(t *testing.T) {
	fs := openFS(t)

	open := func(t *testing.T, p string, flags int) store.File {
		t.Helper()
		ref := fs.CreateRef(p)
		require.NotNil(t, ref)
		defer ref.Release()
		file, code := ref.OpenFile(flags)
		require.Equal(t, store.CodeOK, code)
		return file
	}

	t.Run("write then read back", func(t *testing.T) {
		file := open(t, "/io", os.O_RDWR|os.O_CREATE)
		defer file.Close()

		cnt, code := file.WriteAt([]byte("hello world"), 0)
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, 11, cnt)

		buf := make([]byte, 5)
		cnt, code = file.ReadAt(buf, 6)
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, "world", string(buf[:cnt]))

		// Reads past the end return zero bytes with success.
		cnt, code = file.ReadAt(buf, 100)
		assert.Equal(t, store.CodeOK, code)
		assert.Zero(t, cnt)
	})

	t.Run("sparse write zero fills", func(t *testing.T) {
		file := open(t, "/sparse", os.O_RDWR|os.O_CREATE)
		defer file.Close()

		_, code := file.WriteAt([]byte("x"), 4)
		require.Equal(t, store.CodeOK, code)
		buf := make([]byte, 5)
		cnt, code := file.ReadAt(buf, 0)
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, []byte{0, 0, 0, 0, 'x'}, buf[:cnt])
	})

	t.Run("append mode ignores offset", func(t *testing.T) {
		file := open(t, "/append", os.O_RDWR|os.O_CREATE|os.O_APPEND)
		defer file.Close()

		_, code := file.WriteAt([]byte("ab"), 0)
		require.Equal(t, store.CodeOK, code)
		_, code = file.WriteAt([]byte("cd"), 0)
		require.Equal(t, store.CodeOK, code)

		info, code := file.Query()
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, int64(4), info.Size)
	})

	t.Run("truncate grows and shrinks", func(t *testing.T) {
		file := open(t, "/resize", os.O_RDWR|os.O_CREATE)
		defer file.Close()

		_, code := file.WriteAt([]byte("abcdef"), 0)
		require.Equal(t, store.CodeOK, code)
		require.Equal(t, store.CodeOK, file.Truncate(3))
		require.Equal(t, store.CodeOK, file.Truncate(6))

		buf := make([]byte, 6)
		cnt, code := file.ReadAt(buf, 0)
		require.Equal(t, store.CodeOK, code)
		assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0}, buf[:cnt])
	})

	t.Run("closed file rejects io", func(t *testing.T) {
		file := open(t, "/closed", os.O_RDWR|os.O_CREATE)
		file.Close()

		_, code := file.ReadAt(make([]byte, 1), 0)
		assert.Equal(t, store.CodeBadResource, code)
		_, code = file.WriteAt([]byte("x"), 0)
		assert.Equal(t, store.CodeBadResource, code)
		assert.Equal(t, store.CodeBadResource, file.Flush())
	})
}

func TestConcurrentIOAndClose(t *testing.T) {
	fs := openFS(t)
	writeFile(t, fs, "/shared", []byte("contents"))

	ref := fs.CreateRef("/shared")
	require.NotNil(t, ref)
	defer ref.Release()
	file, code := ref.OpenFile(os.O_RDWR)
	require.Equal(t, store.CodeOK, code)

	// Readers, a writer and a flusher race against Close; every call must
	// return either success or CodeBadResource, never tear.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		buf := make([]byte, 8)
		for i := 0; i < 200; i++ {
			file.ReadAt(buf, 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			file.WriteAt([]byte("x"), 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			file.Flush()
		}
	}()
	file.Close()
	wg.Wait()

	_, code = file.ReadAt(make([]byte, 1), 0)
	assert.Equal(t, store.CodeBadResource, code)
}

func TestQuotaEnforcedOnGrowth(t *testing.T) {
	s := NewStore()
	fs := s.CreateFilesystem(store.KindPersistent).(*Filesystem)
	require.True(t, fs.Open(8, nil).Ok())

	ref := fs.CreateRef("/quota")
	require.NotNil(t, ref)
	defer ref.Release()
	file, code := ref.OpenFile(os.O_RDWR | os.O_CREATE)
	require.Equal(t, store.CodeOK, code)
	defer file.Close()

	_, code = file.WriteAt(make([]byte, 8), 0)
	assert.Equal(t, store.CodeOK, code)
	_, code = file.WriteAt([]byte("x"), 8)
	assert.Equal(t, store.CodeNoQuota, code)

	// Rewrites within the existing size stay allowed.
	_, code = file.WriteAt([]byte("y"), 0)
	assert.Equal(t, store.CodeOK, code)
}

func TestLiveRefAccounting(t *testing.T) {
	fs := openFS(t)

	ref := fs.CreateRef("/counted")
	require.NotNil(t, ref)
	assert.Equal(t, 1, fs.LiveRefs())

	ref.AddRef()
	ref.Release()
	assert.Equal(t, 1, fs.LiveRefs())

	ref.Release()
	assert.Zero(t, fs.LiveRefs())
}
