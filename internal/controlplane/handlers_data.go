package controlplane

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

func (s *Server) handleDataLatest(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	b := s.engine.Buffer()
	if b == nil {
		writeJSON(w, http.StatusOK, []model.BufferedEntry{})
		return
	}
	writeJSON(w, http.StatusOK, b.GetLatest(limit))
}

func (s *Server) handleDataBySource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 100)
	b := s.engine.Buffer()
	if b == nil {
		writeJSON(w, http.StatusOK, []model.BufferedEntry{})
		return
	}
	writeJSON(w, http.StatusOK, b.GetBySource(id, limit))
}

func (s *Server) handleDataRange(w http.ResponseWriter, r *http.Request) {
	startRaw := queryString(r, "start", "")
	endRaw := queryString(r, "end", "")
	if startRaw == "" || endRaw == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required (RFC3339)")
		return
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start: %v", err))
		return
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end: %v", err))
		return
	}

	b := s.engine.Buffer()
	if b == nil {
		writeJSON(w, http.StatusOK, []model.BufferedEntry{})
		return
	}
	writeJSON(w, http.StatusOK, b.GetByTimeRange(start, end))
}

func (s *Server) handleDataSearch(w http.ResponseWriter, r *http.Request) {
	q := queryString(r, "q", "")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	b := s.engine.Buffer()
	if b == nil {
		writeJSON(w, http.StatusOK, []model.BufferedEntry{})
		return
	}
	writeJSON(w, http.StatusOK, b.Search(q))
}

// handleDataExport serves the buffer's most recent entries as JSON (default)
// or CSV per spec §6's "/data/export?format={json,csv}".
func (s *Server) handleDataExport(w http.ResponseWriter, r *http.Request) {
	format := queryString(r, "format", "json")
	limit := queryInt(r, "limit", 1000)

	b := s.engine.Buffer()
	var entries []model.BufferedEntry
	if b != nil {
		entries = b.GetLatest(limit)
	}

	switch format {
	case "csv":
		writeCSV(w, entries)
	case "json":
		writeJSON(w, http.StatusOK, entries)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
	}
}

// writeCSV flattens each BufferedEntry to one row: the entry/record
// envelope fields plus a semicolon-joined "measurement=value" summary
// column, since a CanonicalRecord's measurement count varies per record and
// CSV has no native nested-array shape.
func writeCSV(w http.ResponseWriter, entries []model.BufferedEntry) {
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	defer cw.Flush()

	_ = cw.Write([]string{"entry_id", "source_id", "record_id", "record_type", "timestamp", "measurements"})
	for _, e := range entries {
		_ = cw.Write([]string{
			e.ID,
			e.Record.Metadata.SourceID,
			e.Record.ID,
			e.Record.Type,
			e.Record.Metadata.Timestamp.Format(time.RFC3339Nano),
			measurementsSummary(e.Record.Measurements),
		})
	}
}

func measurementsSummary(measurements []model.Measurement) string {
	var b []byte
	for i, m := range measurements {
		if i > 0 {
			b = append(b, ';')
		}
		b = append(b, m.ID...)
		b = append(b, '=')
		b = append(b, formatMeasurementValue(m.Value)...)
	}
	return string(b)
}

func formatMeasurementValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
