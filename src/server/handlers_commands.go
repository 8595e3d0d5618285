package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kopi-dev/kopi/src/core"
)

type submitCommandRequest struct {
	CommandLine    string            `json:"command_line"`
	WorkingDir     string            `json:"working_directory"`
	EnvOverrides   map[string]string `json:"env_overrides,omitempty"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	rec := s.Commands.Submit(req.CommandLine, req.WorkingDir, req.EnvOverrides, timeout)
	writeJSON(w, http.StatusOK, struct {
		ID string `json:"id"`
	}{rec.ID})
}

func (s *Server) handleCommandStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Commands.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID        string            `json:"id"`
		State     core.CommandState `json:"state"`
		ExitCode  *int              `json:"exit_code,omitempty"`
		StartTime *time.Time        `json:"start_time,omitempty"`
		EndTime   *time.Time        `json:"end_time,omitempty"`
	}{rec.ID, rec.State, rec.ExitCode, rec.StartTime, rec.EndTime})
}

func (s *Server) handleCommandOutput(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Commands.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID         string `json:"id"`
		Output     string `json:"output"`
		IsComplete bool   `json:"is_complete"`
	}{rec.ID, rec.OutputBuffer, rec.State.Terminal()})
}
