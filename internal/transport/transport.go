// Package transport implements Transport Fan-out (C6): publication of every
// CanonicalRecord produced by the Mapping Engine to each enabled SinkSpec,
// in one of three wire variants (bus, broker, http-push), with per-sink
// health tracking and retriable-failure handoff to the Data Buffer.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/bus"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obs"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
)

// Status is one of the three outcomes a Sink reports for a publish attempt
// (spec §4.6).
type Status string

const (
	StatusOK        Status = "ok"
	StatusRetriable Status = "retriable"
	StatusFatal     Status = "fatal"
)

// Result is what a Sink returns for one publish attempt.
type Result struct {
	Status Status
	Reason string
}

func OK() Result                    { return Result{Status: StatusOK} }
func Retriable(reason string) Result { return Result{Status: StatusRetriable, Reason: reason} }
func Fatal(reason string) Result     { return Result{Status: StatusFatal, Reason: reason} }

func (r Result) String() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return fmt.Sprintf("%s: %s", r.Status, r.Reason)
}

// Sink is one transport endpoint a CanonicalRecord can be published to.
type Sink interface {
	Name() string
	Publish(ctx context.Context, record model.CanonicalRecord) Result
	Close() error
}

// BufferStore is the subset of *buffer.Store the Fanout needs, kept as a
// narrow interface so this package doesn't import buffer's cron/sqlite
// wiring for a single method call.
type BufferStore interface {
	Store(ctx context.Context, record model.CanonicalRecord, role model.BufferRole, intendedSubject string) model.BufferedEntry
}

type sinkState struct {
	sink Sink
	up   bool
}

// Fanout attempts to publish every CanonicalRecord to every registered Sink,
// tracks each sink's up/down transitions, and routes retriable failures into
// an attached BufferStore for later recovery flush.
type Fanout struct {
	mu    sync.Mutex
	sinks []*sinkState
	store BufferStore
	bus   bus.Bus
	log   obslog.Logger
}

// NewFanout returns a Fanout with no sinks registered yet; use Register to
// add each enabled SinkSpec's concrete Sink.
func NewFanout(store BufferStore, b bus.Bus, log obslog.Logger) *Fanout {
	if log == nil {
		log = obslog.Noop()
	}
	return &Fanout{store: store, bus: b, log: log}
}

// BuildFanout constructs a Fanout and registers one concrete Sink per
// enabled SinkSpec, dispatching on Variant. Disabled sinks are skipped
// entirely rather than registered and never published to, matching spec
// §4.6's "attempts publication to every enabled sink." Used by cmd/gateway
// at startup and by the control plane's storage/transport reconcile
// handlers to rebuild the fan-out from a freshly loaded configuration
// document.
func BuildFanout(specs []model.SinkSpec, store BufferStore, b bus.Bus, log obslog.Logger) *Fanout {
	fo := NewFanout(store, b, log)
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		switch spec.Variant {
		case model.SinkBus:
			fo.Register(NewBusSink(spec, b))
		case model.SinkBroker:
			fo.Register(NewBrokerSink(spec))
		case model.SinkHTTPPush:
			fo.Register(NewHTTPPushSink(spec, store, log))
		}
	}
	return fo
}

// Register adds sink to the fan-out set, assumed up until its first publish
// fails.
func (f *Fanout) Register(sink Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, &sinkState{sink: sink, up: true})
}

// Sinks returns the names of every registered sink, for status reporting.
func (f *Fanout) Sinks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.sink.Name()
	}
	return names
}

// Close closes every registered sink, continuing past individual errors and
// returning the first one encountered.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, s := range f.sinks {
		if err := s.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Publish attempts record against every registered sink. A sink reporting
// ok after previously being down triggers a SinkRecovered event; a sink
// reporting retriable stores record in the buffer with intendedSubject set
// to that sink's name and emits SinkPublishFailed; fatal is logged and the
// record is not retried on that sink. Other sinks are always attempted
// regardless of one sink's outcome.
func (f *Fanout) Publish(ctx context.Context, record model.CanonicalRecord) {
	f.mu.Lock()
	states := make([]*sinkState, len(f.sinks))
	copy(states, f.sinks)
	f.mu.Unlock()

	for _, st := range states {
		start := time.Now()
		result := st.sink.Publish(ctx, record)
		obs.RecordSinkPublish(st.sink.Name(), string(result.Status), float64(time.Since(start).Milliseconds()))

		switch result.Status {
		case StatusOK:
			f.markUp(ctx, st)
		case StatusRetriable:
			f.markDown(ctx, st, result.Reason)
			if f.store != nil {
				f.store.Store(ctx, record, model.RoleRecovery, st.sink.Name())
			}
		case StatusFatal:
			f.log.Warn("transport: fatal publish error, dropping record for this sink", "sink", st.sink.Name(), "reason", result.Reason)
			if f.bus != nil {
				_ = f.bus.Publish(ctx, &bus.SinkPublishFailed{Sink: st.sink.Name(), Reason: result.Reason, Retriable: false})
			}
		}
	}
}

func (f *Fanout) markUp(ctx context.Context, st *sinkState) {
	f.mu.Lock()
	wasDown := !st.up
	st.up = true
	f.mu.Unlock()

	if wasDown && f.bus != nil {
		_ = f.bus.Publish(ctx, &bus.SinkRecovered{Sink: st.sink.Name()})
	}
}

// Connectable is the optional capability for sinks with an explicit
// pre-connect step (the broker sink's persistent MQTT connection). Sinks
// that connect lazily on first publish (bus, http-push) don't implement it.
type Connectable interface {
	Connect(ctx context.Context) error
}

// ConnectAll best-effort pre-connects every registered sink that implements
// Connectable, for C7's global start sequence ("connect sinks, then start
// all supervisors"). A failure here just means the sink's first Publish
// call will report retriable instead — it doesn't abort startup.
func (f *Fanout) ConnectAll(ctx context.Context) {
	f.mu.Lock()
	states := make([]*sinkState, len(f.sinks))
	copy(states, f.sinks)
	f.mu.Unlock()

	for _, st := range states {
		c, ok := st.sink.(Connectable)
		if !ok {
			continue
		}
		if err := c.Connect(ctx); err != nil {
			f.log.Warn("transport: sink pre-connect failed", "sink", st.sink.Name(), "error", err.Error())
		}
	}
}

// PublishToSink republishes record to exactly one named sink, used by C7 to
// replay recovery-buffered entries once that sink reports recovered. Unlike
// Publish, it never stores a retriable failure back into the buffer — the
// caller is already iterating buffered entries and decides for itself
// whether to stop or continue.
func (f *Fanout) PublishToSink(ctx context.Context, sinkName string, record model.CanonicalRecord) Result {
	f.mu.Lock()
	var target *sinkState
	for _, st := range f.sinks {
		if st.sink.Name() == sinkName {
			target = st
			break
		}
	}
	f.mu.Unlock()

	if target == nil {
		return Fatal("unknown sink: " + sinkName)
	}

	start := time.Now()
	result := target.sink.Publish(ctx, record)
	obs.RecordSinkPublish(target.sink.Name(), string(result.Status), float64(time.Since(start).Milliseconds()))

	switch result.Status {
	case StatusOK:
		f.markUp(ctx, target)
	case StatusRetriable:
		f.markDown(ctx, target, result.Reason)
	}
	return result
}

func (f *Fanout) markDown(ctx context.Context, st *sinkState, reason string) {
	f.mu.Lock()
	st.up = false
	f.mu.Unlock()

	if f.bus != nil {
		_ = f.bus.Publish(ctx, &bus.SinkPublishFailed{Sink: st.sink.Name(), Reason: reason, Retriable: true})
	}
}
