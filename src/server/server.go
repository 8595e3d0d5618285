// Package server implements the HTTP surface (spec.md §6): a chi-routed JSON API over the
// remote file service, the patch-sync engine and the command executor, plus a push channel at
// /ws fed by the notification bus. The teacher has no HTTP-serving component of its own - this
// package is grounded on rclone's fs/rc stack's choice of go-chi/chi/v5 and on the
// gorilla/websocket dependency declared by the mycoool-gohook manifest in the retrieval pack.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kopi-dev/kopi/src/cli/logging"
	"github.com/kopi-dev/kopi/src/fileservice"
	"github.com/kopi-dev/kopi/src/notify"
	"github.com/kopi-dev/kopi/src/patchsync"
	"github.com/kopi-dev/kopi/src/process"
)

var log = logging.Log

// Name is advertised in the root capabilities response.
const Name = "kopid"

// Version is advertised in the root capabilities response. kopid has no release train of its
// own yet, so this is a fixed protocol-surface marker rather than a semver.
const Version = "1"

// Server bundles the handlers' dependencies: the file service and patch-sync engine share one
// workspace root, the command executor and notification bus are process-wide.
type Server struct {
	Files     *fileservice.Service
	Patch     *patchsync.Server
	Commands  *process.Executor
	Bus       *notify.Bus
}

// New wires a Server rooted at workspaceRoot. Patch-sync support is always advertised: the
// underlying git repository is created lazily by the /api/v1/sync/init handler, not at startup.
func New(workspaceRoot string, bus *notify.Bus) *Server {
	return &Server{
		Files:    fileservice.New(workspaceRoot, bus),
		Patch:    patchsync.NewServer(workspaceRoot, bus),
		Commands: process.New(bus),
		Bus:      bus,
	}
}

// Router builds the chi.Mux exposing every endpoint in spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleCapabilities)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/content", s.handleReadFile)
			r.Put("/content", s.handleWriteFull)
			r.Put("/delta", s.handleApplyDelta)
			r.Post("/sync", s.handleBatchSyncFull)
			r.Post("/delta_sync", s.handleBatchSyncDelta)
			r.Post("/mkdir", s.handleMkdir)
		})
		r.Route("/sync", func(r chi.Router) {
			r.Post("/init", s.handleSyncInit)
			r.Post("/patch", s.handleSyncPatch)
			r.Get("/status", s.handleSyncStatus)
			r.Get("/conflicts", s.handleSyncConflicts)
			r.Post("/resolve", s.handleSyncResolve)
			r.Post("/clean", s.handleSyncClean)
		})
		r.Route("/commands", func(r chi.Router) {
			r.Post("/", s.handleSubmitCommand)
			r.Get("/{id}", s.handleCommandStatus)
			r.Get("/{id}/output", s.handleCommandOutput)
		})
	})

	r.Get("/ws", s.handleWebsocket)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.Debug("%s %s", req.Method, req.URL.Path)
		next.ServeHTTP(w, req)
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capabilities())
}
