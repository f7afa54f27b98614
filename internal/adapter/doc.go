/*
Package adapter implements the AsyncFS core: a POSIX-style, path-based
operation surface whose storage is performed entirely by an asynchronous,
handle-based backing store.

# Operation Architecture

Every operation follows the same pipeline:

	┌─────────────────────────────────────────────┐
	│            Caller (FUSE bridge)             │
	│      Access/Open/Mkdir/Remove/Rename        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Open Gate                      │  wait for the one-shot
	│      (async open ⇄ blocking callers)        │  filesystem-open result
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Resolve → Acquire → Call             │  prefix the path, take a
	│        → Translate → Release                │  scoped handle, issue the
	└─────────────────────────────────────────────┘  backing call, map the code

The hard part is the execution-model mismatch: the backing store completes
its filesystem open asynchronously through a completion callback, while
callers of this package expect ordinary blocking calls. The open gate
reconciles the two as a one-shot producer / multiple-consumer point: the
completion stores the translated result under a mutex and broadcasts, and
waiters loop on the predicate so a wakeup can never be missed. Whether the
open is dispatched asynchronously or forced to run to completion is an
explicit construction-time choice (OpenStrategy), not a runtime probe.

Handles minted by the store are reference counted. Operations wrap each one
in a scoped owner released exactly once on every exit path, normal or
early-error, via deferred cleanup.

Errors are plain syscall.Errno values; nil means success. Backing result
codes map through a fixed, exhaustive table, with unknown codes collapsing
to EIO rather than leaking store-specific values.
*/
package adapter
