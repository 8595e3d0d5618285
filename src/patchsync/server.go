package patchsync

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/notify"
	"github.com/kopi-dev/kopi/src/scm"
)

// Server drives the patch-sync engine from the receiving workspace.
type Server struct {
	repo  *scm.Repo
	state *stateStore
	bus   *notify.Bus
}

// NewServer returns a Server rooted at path, publishing file_changed events to bus.
func NewServer(path string, bus *notify.Bus) *Server {
	return &Server{repo: scm.New(path), state: newStateStore(path), bus: bus}
}

// InitRemote is the server-side symmetric counterpart of Client.Init.
func (s *Server) InitRemote(force bool) error {
	return s.repo.Init(force)
}

// ApplyResult is the outcome of ApplyBundle: either a new commit, or a set of conflicts.
type ApplyResult struct {
	Commit    string                `json:"commit,omitempty"`
	Conflicts []core.ConflictEntry `json:"conflicts,omitempty"`
}

// ApplyBundle applies bundle to the server's working tree. It refuses a dirty tree
// (core.ErrDirtyTree), and refuses any bundle while conflicts from an earlier bundle are still
// pending (core.ErrUnknownBase); bundle.BaseCommit itself is not checked against the server's
// history. It dry-runs the patch
// first; on a clean apply it writes everything and commits, emitting a file_changed event per
// touched path; on conflict it records per-file ConflictEntries (each carrying the server's
// current bytes, so a client can offer "use remote") without mutating the tree.
func (s *Server) ApplyBundle(bundle *core.PatchBundle) (*ApplyResult, error) {
	if bundle.Empty() {
		commit, err := s.repo.HeadCommit()
		if err != nil {
			return nil, err
		}
		return &ApplyResult{Commit: commit}, nil
	}
	dirty, err := s.repo.IsDirty()
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, core.ErrDirtyTree
	}
	st, err := s.state.load()
	if err != nil {
		return nil, err
	}
	// A client and a server keep independent git histories, so a commit id minted by one side's
	// git is never going to match the other's hash for "the same" logical content - there's no
	// literal cross-repo reachability to check. What the server actually needs to reject is a
	// client submitting on top of state it can't have seen: once a conflict is recorded, the
	// server's tree is provisionally stuck on that base until resolve() or clean() runs, so any
	// bundle arriving in the meantime is against an unknown base.
	if len(st.PendingConflicts) > 0 {
		return nil, core.ErrUnknownBase
	}

	if err := s.repo.CheckApply(bundle.PatchText); err != nil {
		return s.recordConflict(bundle, err)
	}
	if err := s.repo.Apply(bundle.PatchText); err != nil {
		return s.recordConflict(bundle, err)
	}
	for _, bf := range bundle.BinaryFiles {
		full := filepath.Join(s.repo.Root, bf.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return nil, errors.Wrap(core.ErrIoError, err.Error())
		}
		if err := os.WriteFile(full, bf.Bytes, 0644); err != nil {
			return nil, errors.Wrap(core.ErrIoError, err.Error())
		}
	}

	commit, err := s.repo.CommitSyncPoint("applied remote changes")
	if err != nil {
		return nil, err
	}
	s.publishChanged(bundle)
	if err := s.advanceSyncPoint(commit); err != nil {
		return nil, err
	}
	return &ApplyResult{Commit: commit}, nil
}

func (s *Server) recordConflict(bundle *core.PatchBundle, applyErr error) (*ApplyResult, error) {
	touched, err := scm.TouchedPaths(bundle.PatchText)
	if err != nil {
		return nil, errors.Wrap(core.ErrConflict, err.Error())
	}
	for _, bf := range bundle.BinaryFiles {
		touched = append(touched, bf.Path)
	}

	conflicts := make([]core.ConflictEntry, 0, len(touched))
	for _, path := range touched {
		current, _ := os.ReadFile(filepath.Join(s.repo.Root, path))
		conflicts = append(conflicts, core.ConflictEntry{Path: path, RemoteCurrentBytes: current})
	}

	st, err := s.state.load()
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		st.PendingConflicts[c.Path] = c
	}
	if err := s.state.save(st); err != nil {
		return nil, err
	}
	return &ApplyResult{Conflicts: conflicts}, errors.Wrap(core.ErrConflict, applyErr.Error())
}

// Resolve applies each resolution to the server's pending conflict set: "remote" leaves the
// server's saved current bytes as-is, "local" leaves the working tree untouched (the client's
// copy already reflects the server state it saw), "merged" overwrites with the supplied bytes.
// Once every pending conflict has a resolution, the tree is staged and committed as a new sync
// point; a partial resolution reports the remaining conflicts instead.
func (s *Server) Resolve(resolutions []core.Resolution) (commit string, remaining []core.ConflictEntry, err error) {
	st, err := s.state.load()
	if err != nil {
		return "", nil, err
	}
	for _, r := range resolutions {
		entry, ok := st.PendingConflicts[r.Path]
		if !ok {
			continue
		}
		switch r.Choice {
		case core.ResolveRemote:
			full := filepath.Join(s.repo.Root, r.Path)
			if err := os.WriteFile(full, entry.RemoteCurrentBytes, 0644); err != nil {
				return "", nil, errors.Wrap(core.ErrIoError, err.Error())
			}
		case core.ResolveLocal:
			// no-op: the working tree already holds what the server wants to keep
		case core.ResolveMerged:
			full := filepath.Join(s.repo.Root, r.Path)
			if err := os.WriteFile(full, r.MergedBytes, 0644); err != nil {
				return "", nil, errors.Wrap(core.ErrIoError, err.Error())
			}
		}
		delete(st.PendingConflicts, r.Path)
	}
	if err := s.state.save(st); err != nil {
		return "", nil, err
	}

	remaining = conflictSlice(st.PendingConflicts)
	if len(remaining) > 0 {
		return "", remaining, nil
	}

	if err := s.repo.Add(); err != nil {
		return "", nil, err
	}
	commit, err = s.repo.CommitSyncPoint("resolved sync conflicts")
	if err != nil {
		return "", nil, err
	}
	if err := s.advanceSyncPoint(commit); err != nil {
		return "", nil, err
	}
	return commit, nil, nil
}

// ServerStatus is the server-visible half of spec.md §6's GET /api/v1/sync/status: the commit
// the server last advanced its sync point to, and whether any conflicts are still outstanding
// (which, per ApplyBundle's UnknownBase rule, blocks any further bundle from applying).
type ServerStatus struct {
	LastSyncCommit      string `json:"last_sync_commit"`
	HasPendingConflicts bool   `json:"has_pending_conflicts"`
}

// Status reports the server's current sync-point and conflict state.
func (s *Server) Status() (*ServerStatus, error) {
	st, err := s.state.load()
	if err != nil {
		return nil, err
	}
	return &ServerStatus{LastSyncCommit: st.LastSyncCommit, HasPendingConflicts: len(st.PendingConflicts) > 0}, nil
}

// PendingConflicts returns every conflict recorded by the last ApplyBundle call that hit one.
func (s *Server) PendingConflicts() ([]core.ConflictEntry, error) {
	st, err := s.state.load()
	if err != nil {
		return nil, err
	}
	return conflictSlice(st.PendingConflicts), nil
}

// Clean discards uncommitted changes, clears any pending conflict tracking, and advances the
// sync point to the current HEAD.
func (s *Server) Clean() error {
	if err := s.repo.Reset(); err != nil {
		return err
	}
	st, err := s.state.load()
	if err != nil {
		return err
	}
	st.PendingConflicts = map[string]core.ConflictEntry{}
	commit, err := s.repo.HeadCommit()
	if err != nil {
		return err
	}
	st.LastSyncCommit = commit
	return s.state.save(st)
}

func (s *Server) advanceSyncPoint(commit string) error {
	st, err := s.state.load()
	if err != nil {
		return err
	}
	st.LastSyncCommit = commit
	return s.state.save(st)
}

func (s *Server) publishChanged(bundle *core.PatchBundle) {
	if s.bus == nil {
		return
	}
	paths, _ := scm.TouchedPaths(bundle.PatchText)
	for _, path := range paths {
		s.bus.Publish(notify.NewFileChanged(path, "write"))
	}
	for _, bf := range bundle.BinaryFiles {
		s.bus.Publish(notify.NewFileChanged(bf.Path, "write"))
	}
}

func conflictSlice(m map[string]core.ConflictEntry) []core.ConflictEntry {
	out := make([]core.ConflictEntry, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}
