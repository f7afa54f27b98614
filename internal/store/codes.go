package store

import "fmt"

// Code is the result code domain shared by all store capabilities.
// CodeOK reports success; every other value is a failure. Implementations
// must not invent values outside this set; the adapter maps unknown codes
// to a generic I/O failure.
type Code int32

const (
	CodeOK Code = 0

	// CodeOKPending is returned by Filesystem.Open when a completion
	// callback was supplied and the open will finish asynchronously.
	CodeOKPending Code = -1

	CodeFailed      Code = -2  // unspecified failure
	CodeAborted     Code = -3  // operation aborted by the store
	CodeBadArgument Code = -4  // malformed path or argument
	CodeBadResource Code = -5  // handle no longer valid
	CodeNoInterface Code = -6  // capability not provided by the platform
	CodeNoAccess    Code = -7  // permission denied
	CodeNoMemory    Code = -8  // allocation failure inside the store
	CodeNoSpace     Code = -9  // storage device full
	CodeNoQuota     Code = -10 // quota exhausted
	CodeInProgress  Code = -11 // conflicting operation already running
	CodeNotFound    Code = -12 // no entry for the path
	CodeFileExists  Code = -13 // entry already exists
	CodeTooBig      Code = -14 // file exceeds store limits
	CodeCorrupt     Code = -15 // stored data failed validation
)

// Ok reports whether the code is a success.
func (c Code) Ok() bool { return c == CodeOK }

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeOKPending:
		return "OK_PENDING"
	case CodeFailed:
		return "FAILED"
	case CodeAborted:
		return "ABORTED"
	case CodeBadArgument:
		return "BAD_ARGUMENT"
	case CodeBadResource:
		return "BAD_RESOURCE"
	case CodeNoInterface:
		return "NO_INTERFACE"
	case CodeNoAccess:
		return "NO_ACCESS"
	case CodeNoMemory:
		return "NO_MEMORY"
	case CodeNoSpace:
		return "NO_SPACE"
	case CodeNoQuota:
		return "NO_QUOTA"
	case CodeInProgress:
		return "IN_PROGRESS"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeFileExists:
		return "FILE_EXISTS"
	case CodeTooBig:
		return "TOO_BIG"
	case CodeCorrupt:
		return "CORRUPT"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}
