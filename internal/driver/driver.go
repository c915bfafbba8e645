// Package driver defines the Connector Driver Interface (C1) every protocol
// driver implements, and a compile-time alias-table registry used to
// dispatch a SourceSpec's type tag to a driver factory. New drivers are
// compile-time additions that register themselves from an init() in their
// own package (mirroring database/sql's driver registration idiom) rather
// than a runtime class lookup — per the "plugin-by-tag" design note.
package driver

import (
	"context"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

// EventKind tags the kind of event a driver emits upward to its supervisor.
type EventKind string

const (
	EventSample       EventKind = "sample"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
)

// Event is the single channel type a driver uses to report everything
// upward: samples, lifecycle transitions, and errors. Drivers never retry —
// that is the supervisor's job; a driver only reports what happened.
type Event struct {
	Kind      EventKind
	Sample    value.Value     // populated when Kind == EventSample
	Cause     string          // populated when Kind == EventDisconnected
	ErrorKind model.ErrorKind // populated when Kind == EventError
	Detail    string          // populated when Kind == EventError
}

// SampleEvent builds an Event carrying a raw sample.
func SampleEvent(sample value.Value) Event { return Event{Kind: EventSample, Sample: sample} }

// ConnectedEvent builds a connected lifecycle event.
func ConnectedEvent() Event { return Event{Kind: EventConnected} }

// DisconnectedEvent builds a disconnected lifecycle event with a cause.
func DisconnectedEvent(cause string) Event { return Event{Kind: EventDisconnected, Cause: cause} }

// ErrorEvent builds an error event of a given taxonomy kind.
func ErrorEvent(kind model.ErrorKind, detail string) Event {
	return Event{Kind: EventError, ErrorKind: kind, Detail: detail}
}

// Status is a point-in-time snapshot a driver reports on request.
type Status struct {
	Connected bool
	Stats     map[string]any
}

// Driver is the contract every protocol connector implements (C1).
//
//	validate(config) -> ok | fail(ErrorKind.Config)
//	initialize()      -- build any client object; no network yet
//	start()           -- begin acquisition; must not block
//	stop()            -- graceful shutdown; release sockets/timers/subscriptions
//	status()          -- current snapshot
type Driver interface {
	Validate(config map[string]any) error
	Initialize(config map[string]any) error
	Start(ctx context.Context, events chan<- Event) error
	Stop(ctx context.Context) error
	Status() Status
}

// Discoverer is the optional one-shot catalog retrieval capability (§4.1,
// §4.3). Drivers without a meaningful discovery story simply don't implement it.
type Discoverer interface {
	Discover(ctx context.Context) ([]model.DiscoveryItem, error)
}

// Writer is the optional capability to publish a value back to the device
// (§4.1, §4.8 write path). The supervisor only forwards calls to this when
// its own state is Connected.
type Writer interface {
	Write(ctx context.Context, target string, v any) error
}

// Factory constructs a fresh Driver instance for one SourceSpec's config.
type Factory func() Driver
