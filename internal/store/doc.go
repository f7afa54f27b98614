/*
Package store defines the capability surface of the asynchronous backing
store that AsyncFS adapts. The adapter never talks to storage directly; it
consumes these interfaces and leaves persistence entirely to the
implementation behind them.

# Capability Architecture

Reference-counted handles flow between the adapter and the store:

	┌─────────────────────────────────────────────┐
	│              Adapter (internal/adapter)     │
	│        POSIX-style path operations          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Store Capabilities               │  ← This Package
	│   Store / Filesystem / FileRef / File       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Implementations                    │
	│     memory (in-process), s3 (AWS S3)        │
	└─────────────────────────────────────────────┘

Every call reports a Code rather than a Go error; the adapter owns the
translation into POSIX errnos. Filesystem.Open is the only asynchronous
entry point: given a completion callback it may return before the open has
finished and deliver the final Code through the callback instead.

FileRef and Filesystem handles are reference counted. Callers that retain a
handle past the call that produced it must AddRef it, and every counted
reference must be matched by exactly one Release.
*/
package store
