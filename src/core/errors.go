package core

import "errors"

// Error taxonomy shared by every component. Handlers in src/server map these to HTTP status
// codes; the patch-sync and file-service packages return them (optionally wrapped with
// github.com/pkg/errors context) rather than ad-hoc strings, so callers can compare with
// errors.Is regardless of which layer produced the failure.
var (
	// ErrNotFound is returned for a missing path, an unknown command id, or an unknown commit.
	ErrNotFound = errors.New("not found")

	// ErrNotRegular is returned when fingerprint() or write_full is asked to treat a directory
	// or special file as a regular file.
	ErrNotRegular = errors.New("not a regular file")

	// ErrIsDirectory is returned when read(path) is called against a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotADirectory is returned when list(dir) is called against a non-directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrChecksumMismatch is returned when a supplied digest disagrees with the computed one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNoBase is returned when apply_delta is attempted against a path that does not exist.
	ErrNoBase = errors.New("no base file for delta")

	// ErrShrinkViaDelta is returned by fileservice.ApplyDelta when a delta plan's advertised size
	// is smaller than the file's current size, since a block overlay cannot truncate. The planner
	// (src/deltaplan) escalates such changes to a full transfer and never produces such a plan;
	// this is the fileservice's defence in depth against a malformed or hand-crafted payload.
	ErrShrinkViaDelta = errors.New("delta payload would shrink file; full transfer required")

	// ErrDirtyTree is returned when a patch is applied against a working tree with uncommitted
	// changes.
	ErrDirtyTree = errors.New("working tree has uncommitted changes")

	// ErrUnknownBase is returned by patchsync.Server.ApplyBundle when conflicts from an earlier
	// bundle are still pending. A PatchBundle's base_commit itself is not checked for
	// reachability in the server's history.
	ErrUnknownBase = errors.New("base commit not reachable")

	// ErrConflict is returned when a patch cannot be applied cleanly. Callers should inspect the
	// accompanying ConflictEntry list rather than treating this as a bare failure.
	ErrConflict = errors.New("patch conflict")

	// ErrTimeout is returned when a command exceeds its submitted timeout.
	ErrTimeout = errors.New("command timed out")

	// ErrSpawnFailure is returned when a subprocess could not be started at all.
	ErrSpawnFailure = errors.New("failed to spawn process")

	// ErrIoError wraps subsystem-level I/O failures that don't fit a more specific case.
	ErrIoError = errors.New("i/o error")

	// ErrUnsupported is returned for a capability the server does not advertise; clients are
	// expected to degrade (patch -> delta -> full) rather than treat it as fatal.
	ErrUnsupported = errors.New("capability not supported")
)
