// Package engine implements the Engine Orchestrator (C7): constructs a
// Connector Supervisor for every enabled SourceSpec, runs the global
// start/stop sequences, routes sample/status events between C2, C4, C5 and
// C6, and reconciles the running connector set against an incoming
// SourceSpec list or a new storage/transport configuration.
//
// The connector registry is a plain map guarded by a mutex, the same
// session-map CRUD shape the teacher's kernel orchestrator uses for its
// OrchestrationSession table (coreengine/kernel/orchestrator.go) — create,
// look up, replace, delete by key, no separate indices.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/buffer"
	"github.com/jeeves-cluster-organization/acqgateway/internal/bus"
	"github.com/jeeves-cluster-organization/acqgateway/internal/discovery"
	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/mapping"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
	"github.com/jeeves-cluster-organization/acqgateway/internal/supervisor"
	"github.com/jeeves-cluster-organization/acqgateway/internal/transport"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

// ReconciliationCompleted is emitted after every successful reconciliation
// pass, carrying which source IDs were added/removed/updated. It supplies
// its own routing name via the bus's TypedMessage escape hatch rather than
// editing internal/bus's static message catalog, the same device
// internal/transport's RecordPublished uses.
type ReconciliationCompleted struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

func (m *ReconciliationCompleted) Category() string   { return string(bus.MessageCategoryEvent) }
func (m *ReconciliationCompleted) MessageType() string { return "ReconciliationCompleted" }

var _ bus.TypedMessage = (*ReconciliationCompleted)(nil)

type connector struct {
	spec model.SourceSpec
	drv  driver.Driver
	sup  *supervisor.Supervisor
}

// Engine owns every running connector, the shared mapping/buffer/transport
// pipeline, and the bus subscriptions routing samples and sink recovery
// between them (spec §4.7).
type Engine struct {
	mu         sync.RWMutex
	connectors map[string]*connector
	running    bool

	registry  *driver.Registry
	bus       bus.Bus
	mapping   *mapping.Engine
	buffer    *buffer.Store
	transport *transport.Fanout
	log       obslog.Logger

	inflight sync.WaitGroup
	unsubs   []func()
}

// New returns an Engine wired to its collaborators and registers the bus
// subscriptions/handlers that drive sample routing, recovery flush, and
// status queries. registry resolves SourceSpec.Type to a driver Factory.
func New(registry *driver.Registry, b bus.Bus, mappingEngine *mapping.Engine, bufferStore *buffer.Store, fanout *transport.Fanout, log obslog.Logger) *Engine {
	if log == nil {
		log = obslog.Noop()
	}
	e := &Engine{
		connectors: make(map[string]*connector),
		registry:   registry,
		bus:        b,
		mapping:    mappingEngine,
		buffer:     bufferStore,
		transport:  fanout,
		log:        log,
	}

	if b != nil {
		e.unsubs = append(e.unsubs, b.Subscribe("SampleReceived", e.handleSample))
		e.unsubs = append(e.unsubs, b.Subscribe("SinkRecovered", e.handleSinkRecovered))
		_ = b.RegisterHandler("GetEngineStatus", e.handleGetEngineStatus)
		_ = b.RegisterHandler("GetSourceStatus", e.handleGetSourceStatus)
	}

	return e
}

// LoadSources constructs and initializes a Supervisor for every enabled
// SourceSpec, without starting acquisition. Call Start afterward to begin
// running them. Intended for the engine's initial construction from the
// configuration watcher's loaded source list (spec §4.7 "constructs C2 for
// every enabled SourceSpec at startup").
func (e *Engine) LoadSources(ctx context.Context, specs []model.SourceSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		c, err := e.createConnectorLocked(ctx, spec)
		if err != nil {
			e.log.Warn("engine: failed to construct connector, skipping", "source_id", spec.ID, "error", err.Error())
			continue
		}
		e.connectors[spec.ID] = c
	}
	return nil
}

// createConnectorLocked builds a driver + Supervisor for spec and runs its
// Initialize step. Caller must hold e.mu.
func (e *Engine) createConnectorLocked(ctx context.Context, spec model.SourceSpec) (*connector, error) {
	drv, err := e.registry.Create(string(spec.Type))
	if err != nil {
		return nil, fmt.Errorf("engine: creating driver for %s: %w", spec.ID, err)
	}

	sup := supervisor.New(spec, drv, e.bus, e.log.Bind("source_id", spec.ID))
	if err := sup.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("engine: initializing connector %s: %w", spec.ID, err)
	}

	return &connector{spec: spec, drv: drv, sup: sup}, nil
}

// Start runs the global start sequence: connect every transport sink, then
// start every constructed connector concurrently. An individual
// supervisor's start failure is logged but never aborts the rest (spec
// §4.7).
func (e *Engine) Start(ctx context.Context) error {
	if e.transport != nil {
		e.transport.ConnectAll(ctx)
	}

	e.mu.Lock()
	sups := make([]*connector, 0, len(e.connectors))
	for _, c := range e.connectors {
		sups = append(sups, c)
	}
	e.running = true
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range sups {
		wg.Add(1)
		go func(c *connector) {
			defer wg.Done()
			if err := c.sup.Start(ctx); err != nil {
				e.log.Warn("engine: connector start failed", "source_id", c.spec.ID, "error", err.Error())
			}
		}(c)
	}
	wg.Wait()

	return nil
}

// Stop runs the global stop sequence: stop every connector concurrently,
// wait for in-flight sample handling to drain, then close every sink
// connection.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	sups := make([]*connector, 0, len(e.connectors))
	for _, c := range e.connectors {
		sups = append(sups, c)
	}
	e.running = false
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range sups {
		wg.Add(1)
		go func(c *connector) {
			defer wg.Done()
			if err := c.sup.Stop(ctx); err != nil {
				e.log.Warn("engine: connector stop failed", "source_id", c.spec.ID, "error", err.Error())
			}
		}(c)
	}
	wg.Wait()

	e.inflight.Wait()

	if e.transport != nil {
		if err := e.transport.Close(); err != nil {
			e.log.Warn("engine: error closing sinks", "error", err.Error())
		}
	}
	return nil
}

// StartSource is the thin per-connector "start" control operation (spec
// §4.7).
func (e *Engine) StartSource(ctx context.Context, sourceID string) error {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return err
	}
	return c.sup.Start(ctx)
}

// StopSource is the thin per-connector "stop" control operation.
func (e *Engine) StopSource(ctx context.Context, sourceID string) error {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return err
	}
	return c.sup.Stop(ctx)
}

// RestartSource is the thin per-connector "restart" control operation.
func (e *Engine) RestartSource(ctx context.Context, sourceID string) error {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return err
	}
	if err := c.sup.Stop(ctx); err != nil {
		return err
	}
	return c.sup.Start(ctx)
}

func (e *Engine) connectorByID(sourceID string) (*connector, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.connectors[sourceID]
	if !ok {
		return nil, fmt.Errorf("engine: unknown source %q", sourceID)
	}
	return c, nil
}

// Reconcile applies the 5-step algorithm of spec §4.7 against an incoming
// SourceSpec set: compute toRemove/toAdd/toUpdate, stop+destroy removed and
// changed connectors, recreate changed ones, create added ones, starting
// any of them immediately if the engine is currently running.
func (e *Engine) Reconcile(ctx context.Context, incoming []model.SourceSpec) error {
	e.mu.Lock()

	incomingByID := make(map[string]model.SourceSpec, len(incoming))
	for _, s := range incoming {
		if s.Enabled {
			incomingByID[s.ID] = s
		}
	}

	var toRemove, toAdd, toUpdate []string
	for id, c := range e.connectors {
		next, ok := incomingByID[id]
		if !ok {
			toRemove = append(toRemove, id)
			continue
		}
		if !c.spec.Equal(next) {
			toUpdate = append(toUpdate, id)
		}
	}
	for id := range incomingByID {
		if _, ok := e.connectors[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}

	running := e.running

	for _, id := range toRemove {
		c := e.connectors[id]
		delete(e.connectors, id)
		e.mu.Unlock()
		if err := c.sup.Stop(ctx); err != nil {
			e.log.Warn("engine: reconcile stop (remove) failed", "source_id", id, "error", err.Error())
		}
		e.mu.Lock()
	}

	for _, id := range toUpdate {
		c := e.connectors[id]
		delete(e.connectors, id)
		spec := incomingByID[id]
		e.mu.Unlock()
		if err := c.sup.Stop(ctx); err != nil {
			e.log.Warn("engine: reconcile stop (update) failed", "source_id", id, "error", err.Error())
		}
		e.mu.Lock()

		nc, err := e.createConnectorLocked(ctx, spec)
		if err != nil {
			e.log.Warn("engine: reconcile recreate failed", "source_id", id, "error", err.Error())
			continue
		}
		e.connectors[id] = nc
		if running {
			e.mu.Unlock()
			if err := nc.sup.Start(ctx); err != nil {
				e.log.Warn("engine: reconcile start (update) failed", "source_id", id, "error", err.Error())
			}
			e.mu.Lock()
		}
	}

	for _, id := range toAdd {
		spec := incomingByID[id]
		nc, err := e.createConnectorLocked(ctx, spec)
		if err != nil {
			e.log.Warn("engine: reconcile create (add) failed", "source_id", id, "error", err.Error())
			continue
		}
		e.connectors[id] = nc
		if running {
			e.mu.Unlock()
			if err := nc.sup.Start(ctx); err != nil {
				e.log.Warn("engine: reconcile start (add) failed", "source_id", id, "error", err.Error())
			}
			e.mu.Lock()
		}
	}

	e.mu.Unlock()

	if e.bus != nil {
		_ = e.bus.Publish(ctx, &ReconciliationCompleted{Added: toAdd, Removed: toRemove, Updated: toUpdate})
	}
	return nil
}

// ReconcileStorageTransport tears down the current buffer/transport pair
// and swaps in newBuffer/newFanout, waiting for every in-flight
// handleSample call (C4's producer) to quiesce first so no record is lost
// mid-swap (spec §4.7).
func (e *Engine) ReconcileStorageTransport(ctx context.Context, newBuffer *buffer.Store, newFanout *transport.Fanout) error {
	e.mu.Lock()
	oldTransport := e.transport
	e.buffer = newBuffer
	e.transport = newFanout
	e.mu.Unlock()

	e.inflight.Wait()

	if oldTransport != nil {
		if err := oldTransport.Close(); err != nil {
			e.log.Warn("engine: error closing previous sinks during reconcile", "error", err.Error())
		}
	}
	if newFanout != nil {
		newFanout.ConnectAll(ctx)
	}
	return nil
}

// handleSample is the SampleReceived subscriber: runs the record through
// the mapping engine and, for a produced record, fans it out to the buffer
// cache and every transport sink (spec §4.7 "sample from C2 -> C4 ->
// (C5 + C6)").
func (e *Engine) handleSample(ctx context.Context, msg bus.Message) (any, error) {
	e.inflight.Add(1)
	defer e.inflight.Done()

	sr, ok := msg.(*bus.SampleReceived)
	if !ok {
		return nil, fmt.Errorf("engine: unexpected message type for SampleReceived handler")
	}

	c, err := e.connectorByID(sr.SourceID)
	if err != nil {
		return nil, nil
	}

	sample := value.FromAny(sr.Payload)

	e.mu.RLock()
	mappingEngine := e.mapping
	bufferStore := e.buffer
	fanout := e.transport
	e.mu.RUnlock()

	if mappingEngine == nil {
		return nil, nil
	}

	record, err := mappingEngine.Apply(sr.SourceID, sample, c.spec)
	if err != nil {
		e.log.Warn("engine: mapping apply failed", "source_id", sr.SourceID, "error", err.Error())
		return nil, nil
	}
	if record == nil {
		return nil, nil
	}

	if bufferStore != nil {
		bufferStore.Store(ctx, *record, model.RoleCache, "")
	}
	if fanout != nil {
		fanout.Publish(ctx, *record)
	}
	return nil, nil
}

// handleSinkRecovered is the SinkRecovered subscriber: replays every
// recovery-role entry pending for that sink, oldest first. For a backing
// that supports per-id delete, each successful republish is removed
// immediately and the loop stops at the first failure to preserve
// republish ordering. For a BufferOnly backing, entries are only removed
// (via a single FlushSinkBufferOnly call) once every pending entry for the
// sink has republished successfully in this pass (spec §9's mixed flush
// semantics decision).
func (e *Engine) handleSinkRecovered(ctx context.Context, msg bus.Message) (any, error) {
	sr, ok := msg.(*bus.SinkRecovered)
	if !ok {
		return nil, fmt.Errorf("engine: unexpected message type for SinkRecovered handler")
	}

	e.mu.RLock()
	bufferStore := e.buffer
	fanout := e.transport
	e.mu.RUnlock()

	if bufferStore == nil || fanout == nil {
		return nil, nil
	}

	entries := bufferStore.PendingForSink(sr.Sink)
	if len(entries) == 0 {
		return nil, nil
	}

	bufferOnly := bufferStore.BackingBufferOnly()
	allSucceeded := true

	for _, entry := range entries {
		result := fanout.PublishToSink(ctx, sr.Sink, entry.Record)
		if result.Status != transport.StatusOK {
			allSucceeded = false
			break
		}
		if !bufferOnly {
			if err := bufferStore.Remove(ctx, entry.ID); err != nil {
				e.log.Warn("engine: recovery flush remove failed", "sink", sr.Sink, "entry_id", entry.ID, "error", err.Error())
			}
		}
	}

	if bufferOnly && allSucceeded {
		if err := bufferStore.FlushSinkBufferOnly(ctx, sr.Sink); err != nil {
			e.log.Warn("engine: recovery flush (buffer-only) failed", "sink", sr.Sink, "error", err.Error())
		}
	}

	return nil, nil
}

// SourceIDs returns every source ID currently managed by the engine, in no
// particular order. The control plane uses this to enumerate /sources.
func (e *Engine) SourceIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.connectors))
	for id := range e.connectors {
		ids = append(ids, id)
	}
	return ids
}

// Running reports whether the engine's global start sequence has run
// without a matching Stop.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Buffer returns the currently active Data Buffer, i.e. the one most
// recently installed by New or ReconcileStorageTransport. The control
// plane's /data/* routes read through this rather than holding their own
// reference, so a storage reconcile is visible to them immediately.
func (e *Engine) Buffer() *buffer.Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buffer
}

// Transport returns the currently active Fanout, for status reporting.
func (e *Engine) Transport() *transport.Fanout {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport
}

// Bus returns the event bus the engine was constructed with, so a rebuilt
// Fanout from a storage reconcile still routes SinkRecovered/
// SinkPublishFailed back through the same bus this Engine subscribes on.
func (e *Engine) Bus() bus.Bus {
	return e.bus
}

// Spec returns the configured SourceSpec for sourceID, as last accepted by
// LoadSources or Reconcile.
func (e *Engine) Spec(sourceID string) (model.SourceSpec, error) {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return model.SourceSpec{}, err
	}
	return c.spec, nil
}

// Status returns sourceID's current connector snapshot, the same data
// handleGetSourceStatus answers over the bus, exposed directly for
// in-process callers like the control plane.
func (e *Engine) Status(sourceID string) (model.ConnectorStatus, error) {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return model.ConnectorStatus{}, err
	}
	return c.sup.Status(), nil
}

// DiscoveryCatalog returns sourceID's most recent discovery sweep result,
// if any.
func (e *Engine) DiscoveryCatalog(sourceID string) (*model.DiscoveryCatalog, error) {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return nil, err
	}
	return c.sup.DiscoveryCatalog(), nil
}

// DiscoveryStore returns sourceID's underlying discovery cache so the
// control plane can drive discovery.Promote against it directly.
func (e *Engine) DiscoveryStore(sourceID string) (*discovery.Store, error) {
	c, err := e.connectorByID(sourceID)
	if err != nil {
		return nil, err
	}
	return c.sup.DiscoveryStore(), nil
}

// UpdateSourceConfig replaces sourceID's Config map and recreates its
// connector (stop, destroy, recreate, start if the engine is running) —
// the same toUpdate shape Reconcile applies to a single source, used by the
// control plane's discovery "configure" action to fold promoted discovery
// items into a connector's live config and restart it (spec §4.3).
func (e *Engine) UpdateSourceConfig(ctx context.Context, sourceID string, config map[string]any) error {
	e.mu.Lock()
	c, ok := e.connectors[sourceID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown source %q", sourceID)
	}
	spec := c.spec
	spec.Config = config
	delete(e.connectors, sourceID)
	running := e.running
	e.mu.Unlock()

	if err := c.sup.Stop(ctx); err != nil {
		e.log.Warn("engine: stop before config update failed", "source_id", sourceID, "error", err.Error())
	}

	e.mu.Lock()
	nc, err := e.createConnectorLocked(ctx, spec)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: recreating connector %s after config update: %w", sourceID, err)
	}
	e.connectors[sourceID] = nc
	e.mu.Unlock()

	if running {
		return nc.sup.Start(ctx)
	}
	return nil
}

func (e *Engine) handleGetEngineStatus(ctx context.Context, msg bus.Message) (any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.connectors))
	for id := range e.connectors {
		ids = append(ids, id)
	}
	return &bus.EngineStatusResponse{SourceIDs: ids, Running: e.running}, nil
}

func (e *Engine) handleGetSourceStatus(ctx context.Context, msg bus.Message) (any, error) {
	q, ok := msg.(*bus.GetSourceStatus)
	if !ok {
		return nil, fmt.Errorf("engine: unexpected message type for GetSourceStatus handler")
	}

	c, err := e.connectorByID(q.SourceID)
	if err != nil {
		return nil, err
	}

	status := c.sup.Status()
	resp := &bus.SourceStatusResponse{
		State:     string(status.State),
		LastError: status.LastError,
	}
	if !status.LastActivity.IsZero() {
		resp.LastSampleAt = status.LastActivity.Format(time.RFC3339Nano)
	}
	return resp, nil
}
