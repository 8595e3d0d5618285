package server

import (
	"net/http"

	"github.com/kopi-dev/kopi/src/core"
)

func (s *Server) handleSyncInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	_ = decodeJSON(r, &req) // an empty body is a valid "init with defaults" request
	if err := s.Patch.InitRemote(req.Force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleSyncPatch(w http.ResponseWriter, r *http.Request) {
	var bundle core.PatchBundle
	if err := decodeJSON(r, &bundle); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.Patch.ApplyBundle(&bundle)
	if err != nil {
		// ApplyBundle returns a populated ApplyResult alongside core.ErrConflict so the caller can
		// still see the per-file conflict list even though the request itself failed.
		if result != nil {
			writeJSON(w, statusFor(err), result)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Patch.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.Patch.PendingConflicts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Conflicts []core.ConflictEntry `json:"conflicts"`
	}{conflicts})
}

func (s *Server) handleSyncResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolutions []core.Resolution `json:"resolutions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	commit, remaining, err := s.Patch.Resolve(req.Resolutions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Commit    string                `json:"commit,omitempty"`
		Remaining []core.ConflictEntry `json:"remaining_conflicts,omitempty"`
	}{commit, remaining})
}

func (s *Server) handleSyncClean(w http.ResponseWriter, r *http.Request) {
	if err := s.Patch.Clean(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
