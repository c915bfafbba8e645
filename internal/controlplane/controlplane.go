// Package controlplane implements the HTTP control-plane surface of spec
// §6: process/engine status, per-source lifecycle and discovery actions,
// declarative source/storage reconciliation, and buffer query/export
// routes. It is an external collaborator of the Acquisition Engine, not
// part of the core data plane — every handler is a thin adapter from an
// HTTP request onto internal/engine.Engine, internal/buffer.Store, and
// internal/configwatch.Watcher's existing Go APIs.
//
// Routing follows the teacher's own HTTP layer shape as seen across the
// rest of the example pack's service infrastructure
// (r3e-network-service_layer/infrastructure/service): a *mux.Router
// returned from Router() so it composes into a *http.Server the same way
// a MarbleService's router does, gorilla/mux's Methods()-qualified
// HandleFunc registration, and a standard JSON envelope for both success
// and error responses.
package controlplane

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jeeves-cluster-organization/acqgateway/internal/configwatch"
	"github.com/jeeves-cluster-organization/acqgateway/internal/engine"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
)

// Server owns the control-plane's HTTP routing and its collaborators. It
// does not listen itself — callers wrap Router() in an *http.Server so
// they control the listen address, TLS, and graceful shutdown (spec §6
// names "API listen port" and "optional control-plane API key" as the
// relevant environment variables; cmd/gateway resolves both).
type Server struct {
	router *mux.Router

	engine *engine.Engine
	config *configwatch.Watcher
	log    obslog.Logger

	apiKey    string
	startedAt time.Time
}

// New returns a Server with every route registered, wired to eng and cfg.
// apiKey, if non-empty, is required via the X-API-Key header on every
// request except GET /status; an empty apiKey disables the check entirely
// (spec §6's API key is "optional").
func New(eng *engine.Engine, cfg *configwatch.Watcher, apiKey string, log obslog.Logger) *Server {
	if log == nil {
		log = obslog.Noop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		engine:    eng,
		config:    cfg,
		log:       log,
		apiKey:    apiKey,
		startedAt: time.Now().UTC(),
	}
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.authMiddleware)
	s.routes()
	return s
}

// Router returns the server's *mux.Router for embedding in an *http.Server.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}", s.handleGetSource).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}/status", s.handleSourceStatus).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}/{action:start|stop|restart}", s.handleSourceAction).Methods(http.MethodPost)
	r.HandleFunc("/sources/{id}/data", s.handleSourceData).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}/discovery", s.handleSourceDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}/configure", s.handleSourceConfigure).Methods(http.MethodPost)

	r.HandleFunc("/config/sources/reload", s.handleConfigSourcesReload).Methods(http.MethodPost)
	r.HandleFunc("/config/sources/configure", s.handleConfigSourcesConfigure).Methods(http.MethodPost)
	r.HandleFunc("/config/storage/reload", s.handleConfigStorageReload).Methods(http.MethodPost)
	r.HandleFunc("/config/storage/configure", s.handleConfigStorageConfigure).Methods(http.MethodPost)

	r.HandleFunc("/data/latest", s.handleDataLatest).Methods(http.MethodGet)
	r.HandleFunc("/data/source/{id}", s.handleDataBySource).Methods(http.MethodGet)
	r.HandleFunc("/data/range", s.handleDataRange).Methods(http.MethodGet)
	r.HandleFunc("/data/search", s.handleDataSearch).Methods(http.MethodGet)
	r.HandleFunc("/data/export", s.handleDataExport).Methods(http.MethodGet)
}
