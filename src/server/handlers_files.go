package server

import (
	"encoding/base64"
	"net/http"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/codec"
	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/fileservice"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Files.List(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Files []core.DirEntry `json:"files"`
	}{entries})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	result, err := s.Files.Read(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Content     string                `json:"content"`
		Fingerprint *core.FileFingerprint `json:"fingerprint"`
	}{base64.StdEncoding.EncodeToString(result.Bytes), result.Fingerprint})
}

type writeFullRequest struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum,omitempty"`
}

func (s *Server) handleWriteFull(w http.ResponseWriter, r *http.Request) {
	var req writeFullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, errors.Wrap(core.ErrIoError, err.Error()))
		return
	}
	fp, err := s.Files.WriteFull(req.Path, content, req.Checksum)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

type applyDeltaRequest struct {
	Path    string        `json:"path"`
	Payload codec.Payload `json:"payload"`
}

func (s *Server) handleApplyDelta(w http.ResponseWriter, r *http.Request) {
	var req applyDeltaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	plan, err := codec.Decode(&req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	fp, err := s.Files.ApplyDelta(req.Path, plan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

type syncItem struct {
	Path    string        `json:"path"`
	Content string        `json:"content,omitempty"`
	Payload codec.Payload `json:"payload,omitempty"`
}

type syncResult struct {
	Path        string                `json:"path"`
	Fingerprint *core.FileFingerprint `json:"fingerprint,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// handleBatchSyncFull implements POST /api/v1/files/sync: a batch of whole-file writes.
func (s *Server) handleBatchSyncFull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []syncItem `json:"files"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	results := make([]syncResult, 0, len(req.Files))
	for _, item := range req.Files {
		content, err := base64.StdEncoding.DecodeString(item.Content)
		if err != nil {
			results = append(results, syncResult{Path: item.Path, Error: err.Error()})
			continue
		}
		fp, err := s.Files.WriteFull(item.Path, content, "")
		results = append(results, resultOf(item.Path, fp, err))
	}
	writeJSON(w, http.StatusOK, struct {
		Results []syncResult `json:"results"`
	}{results})
}

// handleBatchSyncDelta implements POST /api/v1/files/delta_sync: a batch of delta-plan
// applications, with the response carrying fingerprints per spec.md §6.
func (s *Server) handleBatchSyncDelta(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []syncItem `json:"files"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	items := make([]fileservice.BatchItem, 0, len(req.Files))
	decodeErrs := map[int]error{}
	for i, item := range req.Files {
		plan, err := codec.Decode(&item.Payload)
		if err != nil {
			decodeErrs[i] = err
			plan = &core.DeltaPlan{Kind: core.DeltaNone}
		}
		items = append(items, fileservice.BatchItem{Path: item.Path, Plan: plan})
	}
	batchResults := s.Files.BatchSync(items)
	results := make([]syncResult, 0, len(batchResults))
	for i, br := range batchResults {
		if err, bad := decodeErrs[i]; bad {
			results = append(results, syncResult{Path: br.Path, Error: err.Error()})
			continue
		}
		results = append(results, resultOf(br.Path, br.Fingerprint, br.Err))
	}
	writeJSON(w, http.StatusOK, struct {
		Results []syncResult `json:"results"`
	}{results})
}

func resultOf(path string, fp *core.FileFingerprint, err error) syncResult {
	if err != nil {
		return syncResult{Path: path, Error: err.Error()}
	}
	return syncResult{Path: path, Fingerprint: fp}
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Files.Mkdir(req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
