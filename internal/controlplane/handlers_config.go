package controlplane

import (
	"net/http"

	"github.com/jeeves-cluster-organization/acqgateway/internal/buffer"
	"github.com/jeeves-cluster-organization/acqgateway/internal/configwatch"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/transport"
)

func (s *Server) handleConfigSourcesReload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.config.Reload()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Reconcile(r.Context(), doc.Sources); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAck(w, "source set reloaded from disk")
}

// sourcesPayload is the body of POST /config/sources/configure: a full
// replacement source list (spec §6 "replace source set with payload").
type sourcesPayload struct {
	Sources []model.SourceSpec `json:"sources"`
}

func (s *Server) handleConfigSourcesConfigure(w http.ResponseWriter, r *http.Request) {
	var payload sourcesPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc := configwatch.Document{Sources: payload.Sources, Sinks: s.config.Current().Sinks}
	if err := s.config.Save(doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Reconcile(r.Context(), payload.Sources); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAck(w, "source set replaced")
}

func (s *Server) handleConfigStorageReload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.config.Reload()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.rebuildStorageTransport(w, r, doc.Sinks)
}

// sinksPayload is the body of POST /config/storage/configure: a full
// replacement sink list (spec §6 "storage reconcile").
type sinksPayload struct {
	Sinks []model.SinkSpec `json:"sinks"`
}

func (s *Server) handleConfigStorageConfigure(w http.ResponseWriter, r *http.Request) {
	var payload sinksPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc := configwatch.Document{Sources: s.config.Current().Sources, Sinks: payload.Sinks}
	if err := s.config.Save(doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.rebuildStorageTransport(w, r, payload.Sinks)
}

// rebuildStorageTransport constructs a fresh Data Buffer and Transport
// Fan-out from sinks and swaps them into the engine via
// ReconcileStorageTransport, which itself waits for in-flight records to
// drain before the swap (spec §4.7). The new buffer keeps the package's
// size/retention defaults — the on-disk document models only the source
// and sink lists, not per-deployment buffer tuning.
func (s *Server) rebuildStorageTransport(w http.ResponseWriter, r *http.Request, sinks []model.SinkSpec) {
	newBuffer := buffer.New()
	newBuffer.StartEvictionSweep()
	newFanout := transport.BuildFanout(sinks, newBuffer, s.engine.Bus(), s.log)

	if err := s.engine.ReconcileStorageTransport(r.Context(), newBuffer, newFanout); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAck(w, "storage and transport reconciled")
}
