package adapter

import (
	"syscall"

	"github.com/asyncfs/asyncfs/internal/store"
)

// errnoFromCode translates a backing-store result code into a POSIX errno.
// The mapping is total: CodeOK yields nil, every known failure maps to its
// nearest POSIX equivalent, and anything outside the known set becomes EIO
// instead of propagating an unrecognized value.
func errnoFromCode(code store.Code) error {
	switch code {
	case store.CodeOK:
		return nil
	case store.CodeOKPending, store.CodeAborted, store.CodeFailed:
		return syscall.EIO
	case store.CodeBadArgument, store.CodeBadResource:
		return syscall.EINVAL
	case store.CodeNoInterface:
		return syscall.ENOSYS
	case store.CodeNoAccess:
		return syscall.EACCES
	case store.CodeNoMemory:
		return syscall.ENOMEM
	case store.CodeNoSpace:
		return syscall.ENOSPC
	case store.CodeNoQuota:
		return syscall.EDQUOT
	case store.CodeInProgress:
		return syscall.EBUSY
	case store.CodeNotFound:
		return syscall.ENOENT
	case store.CodeFileExists:
		return syscall.EEXIST
	case store.CodeTooBig:
		return syscall.EFBIG
	case store.CodeCorrupt:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}
