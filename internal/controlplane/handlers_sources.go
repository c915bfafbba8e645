package controlplane

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jeeves-cluster-organization/acqgateway/internal/discovery"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// statusView is the per-source shape returned by /status, /sources, and
// /sources/{id}: the declarative SourceSpec plus its live ConnectorStatus.
type statusView struct {
	Spec   model.SourceSpec      `json:"spec"`
	Status model.ConnectorStatus `json:"status"`
}

func (s *Server) sourceView(id string) (statusView, bool) {
	spec, err := s.engine.Spec(id)
	if err != nil {
		return statusView{}, false
	}
	status, _ := s.engine.Status(id)
	return statusView{Spec: spec, Status: status}, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.SourceIDs()

	var sinks []string
	if t := s.engine.Transport(); t != nil {
		sinks = t.Sinks()
	}

	bufferLen := 0
	if b := s.engine.Buffer(); b != nil {
		bufferLen = b.Len()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"running":      s.engine.Running(),
		"started_at":   s.startedAt,
		"source_count": len(ids),
		"sinks":        sinks,
		"buffer_depth": bufferLen,
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.SourceIDs()
	views := make([]statusView, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.sourceView(id); ok {
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := s.sourceView(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", id))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.engine.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSourceAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, action := vars["id"], vars["action"]

	var err error
	switch action {
	case "start":
		err = s.engine.StartSource(r.Context(), id)
	case "stop":
		err = s.engine.StopSource(r.Context(), id)
	case "restart":
		err = s.engine.RestartSource(r.Context(), id)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeAck(w, fmt.Sprintf("source %q %sed", id, action))
}

func (s *Server) handleSourceData(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 100)

	b := s.engine.Buffer()
	if b == nil {
		writeJSON(w, http.StatusOK, []model.BufferedEntry{})
		return
	}
	writeJSON(w, http.StatusOK, b.GetBySource(id, limit))
}

func (s *Server) handleSourceDiscovery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cat, err := s.engine.DiscoveryCatalog(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if cat == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no discovery catalog for source %q", id))
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

// configureRequest selects which discovered items to promote into a
// source's live point list (spec §4.3's "configure" action).
type configureRequest struct {
	NodeIDs []string `json:"nodeIds"`
}

func (s *Server) handleSourceConfigure(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req configureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.NodeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "nodeIds must be non-empty")
		return
	}

	store, err := s.engine.DiscoveryStore(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	restart := func(ctx context.Context, sourceID string) error {
		cat, ok := store.Catalog(sourceID)
		if !ok {
			return fmt.Errorf("controlplane: discovery catalog vanished for %q mid-promote", sourceID)
		}
		spec, err := s.engine.Spec(sourceID)
		if err != nil {
			return err
		}
		config := make(map[string]any, len(spec.Config)+1)
		for k, v := range spec.Config {
			config[k] = v
		}
		config["points"] = promotedPoints(cat, req.NodeIDs)
		return s.engine.UpdateSourceConfig(ctx, sourceID, config)
	}

	promoted, err := discovery.Promote(r.Context(), store, id, req.NodeIDs, restart)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, promoted)
}

// promotedPoints renders the subset of catalog's items matching nodeIDs
// into the generic point-list shape a driver's Config map carries forward
// (the same {nodeId, browseName, ...} / {topic} fields discovery produced),
// ready to be set as SourceSpec.Config["points"].
func promotedPoints(catalog *model.DiscoveryCatalog, nodeIDs []string) []model.DiscoveryItem {
	wanted := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = true
	}
	var points []model.DiscoveryItem
	for _, item := range catalog.Items {
		key := item.NodeID
		if key == "" {
			key = item.Topic
		}
		if wanted[key] {
			points = append(points, item)
		}
	}
	return points
}
