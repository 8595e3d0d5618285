package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/core"
)

func capabilities() core.Capabilities {
	return core.Capabilities{
		Name:               Name,
		Version:            Version,
		DeltaSyncSupported: true,
		GitSyncSupported:   true,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode response: %s", err)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the core error taxonomy (spec.md §7) onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnsupported):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotADirectory), errors.Is(err, core.ErrIsDirectory), errors.Is(err, core.ErrNotRegular):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrChecksumMismatch):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoBase):
		return http.StatusConflict
	case errors.Is(err, core.ErrShrinkViaDelta):
		return http.StatusConflict
	case errors.Is(err, core.ErrDirtyTree):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnknownBase):
		return http.StatusConflict
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrSpawnFailure), errors.Is(err, core.ErrIoError):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to its HTTP status via statusFor and writes a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	log.Debug("request failed (%d): %s", status, err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
