// Package core holds the data model and error taxonomy shared by every other kopi package:
// fingerprints, delta plans, patch bundles, command records, and the conflict/resolution pair
// used by patch-sync. Nothing in here performs I/O.
package core

import "time"

// BlockSize is the protocol-constant window used by the CAS view and the delta planner.
// Changing it invalidates every cached fingerprint; src/metacache refuses to load a persisted
// cache whose header names a different block size.
const BlockSize = 4096

// FileFingerprint identifies a file's byte content: a whole-file digest plus an ordered set of
// fixed-size block digests. mtime and size are recorded for convenience and as a cheap
// accelerator elsewhere (src/metacache) but are never authoritative for equivalence - only the
// digests are.
type FileFingerprint struct {
	Path        string            `json:"path"`
	Mtime       float64           `json:"mtime"`
	Size        int64             `json:"size"`
	WholeDigest string            `json:"whole_digest"`
	Blocks      map[int]string    `json:"blocks"`
}

// NumBlocks returns the number of blocks implied by Size, i.e. ceil(Size/BlockSize).
func (f *FileFingerprint) NumBlocks() int {
	return numBlocks(f.Size)
}

func numBlocks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + BlockSize - 1) / BlockSize)
}

// DeltaKind enumerates the three cases a DeltaPlan can take.
type DeltaKind string

const (
	// DeltaNone means the remote fingerprint already matches; nothing is transferred.
	DeltaNone DeltaKind = "none"
	// DeltaFull means the entire content is transferred, either because the remote is unknown
	// or because the change cannot be expressed as a block overlay (eg. a shrink).
	DeltaFull DeltaKind = "full"
	// DeltaPartial means only the listed blocks are transferred; all others are unchanged.
	DeltaPartial DeltaKind = "delta"
)

// DeltaPlan is the delta planner's output: a tagged union over DeltaNone/DeltaFull/DeltaPartial.
// Only the fields relevant to Kind are populated; callers must switch on Kind rather than
// inferring it from which fields are set.
type DeltaPlan struct {
	Kind        DeltaKind      `json:"delta_type"`
	Size        int64          `json:"size"`
	WholeDigest string         `json:"full_hash"`
	Content     []byte         `json:"-"` // full payload body, only set when Kind == DeltaFull
	Blocks      map[int][]byte `json:"-"` // changed block bodies, only set when Kind == DeltaPartial
}

// BinaryFile is a single file included verbatim in a PatchBundle because the textual diff
// cannot represent it.
type BinaryFile struct {
	Path  string `json:"path"`
	Bytes []byte `json:"raw_bytes"`
}

// PatchBundle is the currency of the patch-sync mode: a unified textual diff against a known
// sync-point commit, plus raw bodies for files the diff can't represent.
type PatchBundle struct {
	BaseCommit     string       `json:"base_commit"`
	PatchText      string       `json:"patch_text"`
	BinaryFiles    []BinaryFile `json:"binary_files"`
	UntrackedPaths []string     `json:"untracked_paths"`
}

// Empty reports whether the bundle carries no changes at all - the client's "no changes"
// sentinel rather than a transport failure.
func (b *PatchBundle) Empty() bool {
	return b.PatchText == "" && len(b.BinaryFiles) == 0 && len(b.UntrackedPaths) == 0
}

// CommandState is the state-machine position of a CommandRecord.
type CommandState string

const (
	CommandPending   CommandState = "pending"
	CommandRunning   CommandState = "running"
	CommandCompleted CommandState = "completed"
	CommandFailed    CommandState = "failed"
	CommandTimeout   CommandState = "timeout"
)

// Terminal reports whether s is one from which no further transition happens.
func (s CommandState) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed || s == CommandTimeout
}

// CommandRecord is the durable, process-lifetime record of one submitted command.
type CommandRecord struct {
	ID              string            `json:"id"`
	CommandLine     string            `json:"command_line"`
	WorkingDir      string            `json:"working_directory"`
	EnvOverrides    map[string]string `json:"env_overrides"`
	TimeoutSeconds  float64           `json:"timeout_seconds"`
	State           CommandState      `json:"state"`
	StartTime       *time.Time        `json:"start_time,omitempty"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	ExitCode        *int              `json:"exit_code,omitempty"`
	OutputBuffer    string            `json:"output_buffer"`
}

// ConflictEntry is a single file the server could not cleanly patch during apply_bundle.
type ConflictEntry struct {
	Path               string `json:"path"`
	RemoteCurrentBytes []byte `json:"remote_current_bytes"`
}

// ResolutionChoice enumerates the three ways a ConflictEntry can be resolved.
type ResolutionChoice string

const (
	ResolveLocal   ResolutionChoice = "local"
	ResolveRemote  ResolutionChoice = "remote"
	ResolveMerged  ResolutionChoice = "merged"
)

// Resolution clears a ConflictEntry and advances the working tree accordingly.
type Resolution struct {
	Path        string           `json:"path"`
	Choice      ResolutionChoice `json:"choice"`
	MergedBytes []byte           `json:"merged_bytes,omitempty"`
}

// DirEntry is one direct child as returned by the remote file service's list operation.
type DirEntry struct {
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Type         string     `json:"type"` // "file" or "directory"
	Size         *int64     `json:"size,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// Capabilities is the root response's advertisement of what the server supports. src/client
// reads DeltaSyncSupported to choose between delta and full transfers, with a 404 from the delta
// endpoint as the last-resort fallback. GitSyncSupported is reported, but src/client does not
// consult it before a patch sync.
type Capabilities struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	DeltaSyncSupported  bool   `json:"delta_sync_supported"`
	GitSyncSupported    bool   `json:"git_sync_supported"`
}
