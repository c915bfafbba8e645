package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/buffer"
	"github.com/jeeves-cluster-organization/acqgateway/internal/bus"
	"github.com/jeeves-cluster-organization/acqgateway/internal/configwatch"
	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/engine"
	"github.com/jeeves-cluster-organization/acqgateway/internal/mapping"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/transport"
)

// stubDriver is a minimal driver.Driver that emits only a connected event, standing
// in for a real connector so the engine can be started without a live
// protocol session.
type stubDriver struct {
	discoverItems []model.DiscoveryItem
}

func (d *stubDriver) Validate(map[string]any) error   { return nil }
func (d *stubDriver) Initialize(map[string]any) error { return nil }
func (d *stubDriver) Start(ctx context.Context, events chan<- driver.Event) error {
	go func() { events <- driver.ConnectedEvent() }()
	return nil
}
func (d *stubDriver) Stop(ctx context.Context) error { return nil }
func (d *stubDriver) Status() driver.Status          { return driver.Status{} }
func (d *stubDriver) Discover(ctx context.Context) ([]model.DiscoveryItem, error) {
	return d.discoverItems, nil
}

var _ driver.Driver = (*stubDriver)(nil)
var _ driver.Discoverer = (*stubDriver)(nil)

func newTestServer(t *testing.T) (*Server, *stubDriver) {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sources: []\nsinks: []\n"), 0o644))

	cfg := configwatch.New(cfgPath, nil)
	require.NoError(t, cfg.Load())

	b := bus.NewInMemoryBusWithLogger(time.Second, bus.NoopLogger())
	sd := &stubDriver{}
	registry := driver.NewRegistry()
	registry.Register("stub", nil, func() driver.Driver { return sd })

	me := mapping.NewEngine("", nil)
	bs := buffer.New()
	fo := transport.NewFanout(bs, b, nil)

	eng := engine.New(registry, b, me, bs, fo, nil)
	require.NoError(t, eng.LoadSources(context.Background(), []model.SourceSpec{
		{ID: "src-1", Type: "stub", Enabled: true, AutoMapping: true},
	}))

	return New(eng, cfg, "", nil), sd
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleStatusReportsSourceCount(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["source_count"])
	assert.Equal(t, false, resp["running"])
}

func TestHandleGetSourceReturnsSpecAndStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/sources/src-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view statusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "src-1", view.Spec.ID)
	assert.Equal(t, model.StateInitialized, view.Status.State)
}

func TestHandleGetSourceUnknownReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/sources/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSourceActionStartThenStop(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/sources/src-1/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/sources/src-1/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSourceActionUnknownSourceReturns400(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/sources/missing/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSourceDiscoveryBeforeSweepReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/sources/src-1/discovery", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSourceConfigurePromotesDiscoveryAndRestarts(t *testing.T) {
	s, sd := newTestServer(t)
	sd.discoverItems = []model.DiscoveryItem{
		{NodeID: "n1", BrowseName: "Temp"},
		{NodeID: "n2", BrowseName: "Pressure"},
	}

	store, err := s.engine.DiscoveryStore("src-1")
	require.NoError(t, err)
	store.Run(context.Background(), "src-1", sd)

	rec := doRequest(t, s, http.MethodPost, "/sources/src-1/configure", configureRequest{NodeIDs: []string{"n1"}})
	require.Equal(t, http.StatusOK, rec.Code)

	spec, err := s.engine.Spec("src-1")
	require.NoError(t, err)
	points, ok := spec.Config["points"].([]model.DiscoveryItem)
	require.True(t, ok)
	require.Len(t, points, 1)
	assert.Equal(t, "n1", points[0].NodeID)

	_, stillCached := store.Catalog("src-1")
	assert.False(t, stillCached, "promote clears the catalog on success")
}

func TestHandleConfigSourcesConfigureReplacesSourceSet(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/config/sources/configure", sourcesPayload{
		Sources: []model.SourceSpec{{ID: "src-2", Type: "stub", Enabled: true}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []statusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "src-2", views[0].Spec.ID)
}

func TestHandleDataLatestReturnsStoredEntries(t *testing.T) {
	s, _ := newTestServer(t)

	b := s.engine.Buffer()
	b.Store(context.Background(), model.CanonicalRecord{ID: "rec-1", Metadata: model.RecordMetadata{SourceID: "src-1"}}, model.RoleCache, "")

	rec := doRequest(t, s, http.MethodGet, "/data/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []model.BufferedEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "rec-1", entries[0].Record.ID)
}

func TestHandleDataExportCSV(t *testing.T) {
	s, _ := newTestServer(t)

	b := s.engine.Buffer()
	b.Store(context.Background(), model.CanonicalRecord{
		ID:           "rec-1",
		Metadata:     model.RecordMetadata{SourceID: "src-1"},
		Measurements: []model.Measurement{{ID: "temp", Value: 21.5}},
	}, model.RoleCache, "")

	rec := doRequest(t, s, http.MethodGet, "/data/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "temp=21.5")
}

func TestHandleDataRangeRequiresStartAndEnd(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/data/range", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddlewareRejectsMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sources: []\nsinks: []\n"), 0o644))
	cfg := configwatch.New(cfgPath, nil)
	require.NoError(t, cfg.Load())

	b := bus.NewInMemoryBusWithLogger(time.Second, bus.NoopLogger())
	me := mapping.NewEngine("", nil)
	bs := buffer.New()
	fo := transport.NewFanout(bs, b, nil)
	eng := engine.New(driver.NewRegistry(), b, me, bs, fo, nil)

	s := New(eng, cfg, "secret-key", nil)

	rec := doRequest(t, s, http.MethodGet, "/sources", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/sources", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)

	// /status is reachable without the key for liveness probes.
	rec3 := doRequest(t, s, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, rec3.Code)
}
