package patchsync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/core"
)

// stateFileName is the server-side sidecar recording the sync-point -> repository mapping
// explicitly, rather than re-deriving it from `git log` on every call (spec.md §9).
const stateFileName = ".kopi-sync-state.json"

// state is the on-disk persisted record for one repository root.
type state struct {
	Path             string                        `json:"path"`
	LastSyncCommit   string                        `json:"last_sync_commit"`
	PendingConflicts map[string]core.ConflictEntry `json:"pending_conflicts,omitempty"`
}

type stateStore struct {
	mutex sync.Mutex
	path  string
}

func newStateStore(root string) *stateStore {
	return &stateStore{path: filepath.Join(root, stateFileName)}
}

func (s *stateStore) load() (*state, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &state{PendingConflicts: map[string]core.ConflictEntry{}}, nil
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if st.PendingConflicts == nil {
		st.PendingConflicts = map[string]core.ConflictEntry{}
	}
	return &st, nil
}

func (s *stateStore) save(st *state) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	st.Path = filepath.Dir(s.path)
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".kopi-sync-state-*.tmp")
	if err != nil {
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	return os.Rename(tmpName, s.path)
}
