// Package supervisor implements the Connector Supervisor (C2): one task per
// source, driving a single driver instance through the lifecycle state
// machine, retrying with exponential backoff, and forwarding every sample
// and status change to the event bus tagged with sourceId.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jeeves-cluster-organization/acqgateway/internal/bus"
	"github.com/jeeves-cluster-organization/acqgateway/internal/discovery"
	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obs"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
	"github.com/jeeves-cluster-organization/acqgateway/internal/safeguard"
)

var tracer = otel.Tracer("acqgateway/supervisor")

const defaultStopGrace = 5 * time.Second

// Supervisor owns one driver for one source and drives it through the C2
// lifecycle state machine.
type Supervisor struct {
	spec   model.SourceSpec
	driver driver.Driver
	bus    bus.Bus
	log    obslog.Logger

	stopGrace time.Duration

	discovery *discovery.Store

	mu       sync.RWMutex
	state    model.ConnectorState
	counters model.ConnectorCounters
	lastErr  string
	lastAct  time.Time

	attempt  int
	cancel   context.CancelFunc
	runDone  chan struct{}
	stopOnce sync.Once
}

// New returns a Supervisor in the Unconfigured state.
func New(spec model.SourceSpec, drv driver.Driver, b bus.Bus, log obslog.Logger) *Supervisor {
	if log == nil {
		log = obslog.Noop()
	}
	return &Supervisor{
		spec:      spec,
		driver:    drv,
		bus:       b,
		log:       log,
		discovery: discovery.NewStore(),
		stopGrace: defaultStopGrace,
		state:     model.StateUnconfigured,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() model.ConnectorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot suitable for the control plane.
func (s *Supervisor) Status() model.ConnectorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.ConnectorStatus{
		SourceID:     s.spec.ID,
		State:        s.state,
		LastActivity: s.lastAct,
		Counters:     s.counters,
		LastError:    s.lastErr,
	}
}

// DiscoveryCatalog returns the most recent discovery sweep result, if any.
func (s *Supervisor) DiscoveryCatalog() *model.DiscoveryCatalog {
	cat, _ := s.discovery.Catalog(s.spec.ID)
	return cat
}

// DiscoveryStore exposes the underlying catalog cache so the control plane
// can drive a "configure" promote action against it (§4.3).
func (s *Supervisor) DiscoveryStore() *discovery.Store {
	return s.discovery
}

// transition validates and applies a state change, publishing
// ConnectorStateChanged and recording the obs metric. Callers must not hold
// s.mu when calling this.
func (s *Supervisor) transition(ctx context.Context, to model.ConnectorState) error {
	s.mu.Lock()
	from := s.state
	if !IsValidTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}
	s.state = to
	s.lastAct = time.Now().UTC()
	if to == model.StateConnected {
		s.counters.SuccessfulConnect++
	}
	s.mu.Unlock()

	obs.RecordStateTransition(s.spec.ID, string(from), string(to))
	s.log.Info("connector state transition", "source_id", s.spec.ID, "from", string(from), "to", string(to))

	if s.bus != nil {
		_ = s.bus.Publish(ctx, &bus.ConnectorStateChanged{
			SourceID: s.spec.ID,
			From:     string(from),
			To:       string(to),
		})
	}
	return nil
}

// Initialize validates and initializes the driver, transitioning to
// Initialized.
func (s *Supervisor) Initialize(ctx context.Context) error {
	if err := s.driver.Validate(s.spec.Config); err != nil {
		return err
	}
	if err := s.driver.Initialize(s.spec.Config); err != nil {
		return err
	}
	return s.transition(ctx, model.StateInitialized)
}

// Start begins acquisition: Initialized -> Connecting, then drives the
// driver's event stream until the supervisor's own context is cancelled by
// Stop.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "supervisor.start", attribute.String("source_id", s.spec.ID))
	defer span.End()

	if err := s.transition(ctx, model.StateConnecting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runDone = make(chan struct{})

	safeguard.SafeGo(s.log, "supervisor.run:"+s.spec.ID, func() {
		s.run(runCtx)
	}, func(recovered any) {
		s.mu.Lock()
		s.lastErr = fmt.Sprintf("panic: %v", recovered)
		s.mu.Unlock()
	})

	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.runDone)

	for {
		if ctx.Err() != nil {
			s.finishStop(ctx)
			return
		}

		events := make(chan driver.Event, 16)

		driveCtx, driveCancel := context.WithCancel(ctx)
		err := s.driver.Start(driveCtx, events)
		if err != nil {
			driveCancel()
			if !s.handleConnectFailure(ctx, err) {
				if ctx.Err() != nil {
					s.finishStop(ctx)
				} else {
					_ = s.driver.Stop(context.Background())
				}
				return
			}
			continue
		}

		s.consume(ctx, events)
		driveCancel()

		if ctx.Err() != nil {
			s.finishStop(ctx)
			return
		}

		switch s.State() {
		case model.StateFailed:
			_ = s.driver.Stop(context.Background())
			return
		case model.StateDisconnected:
			// reconnectOrStop decided not to retry (disabled policy); settle
			// here rather than calling driver.Start again from Disconnected.
			_ = s.driver.Stop(context.Background())
			_ = s.transition(context.Background(), model.StateStopped)
			return
		}

		// Reconnecting already resolved to Connecting by reconnectOrStop;
		// loop back around to drive the connection again.
	}
}

// consume drains driver events until the driver's context is done or a
// Disconnected event arrives.
func (s *Supervisor) consume(ctx context.Context, events chan driver.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case driver.EventConnected:
				_ = s.transition(ctx, model.StateConnected)
				s.mu.Lock()
				s.attempt = 0
				s.mu.Unlock()
				s.maybeDiscover(ctx)
			case driver.EventSample:
				s.onSample(ctx, ev)
			case driver.EventDisconnected:
				s.onDisconnected(ctx, ev.Cause)
				return
			case driver.EventError:
				s.onError(ctx, ev.ErrorKind, ev.Detail)
			}
		}
	}
}

func (s *Supervisor) onSample(ctx context.Context, ev driver.Event) {
	s.mu.Lock()
	s.counters.SamplesReceived++
	s.lastAct = time.Now().UTC()
	s.mu.Unlock()

	obs.RecordSample(s.spec.ID, string(s.spec.Type))

	if s.bus == nil {
		return
	}

	payload, ok := ev.Sample.ToAny().(map[string]any)
	if !ok {
		payload = map[string]any{"value": ev.Sample.ToAny()}
	}
	_ = s.bus.Publish(ctx, &bus.SampleReceived{
		SourceID:   s.spec.ID,
		Driver:     string(s.spec.Type),
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	})
}

func (s *Supervisor) onError(ctx context.Context, kind model.ErrorKind, detail string) {
	s.mu.Lock()
	s.counters.Errors++
	s.lastErr = detail
	s.mu.Unlock()

	obs.RecordConnectorError(s.spec.ID, string(kind))

	if s.bus != nil {
		_ = s.bus.Publish(ctx, &bus.ConnectorErrorRaised{
			SourceID: s.spec.ID,
			Kind:     string(kind),
			Reason:   detail,
		})
	}
}

func (s *Supervisor) onDisconnected(ctx context.Context, cause string) {
	s.mu.Lock()
	s.lastErr = cause
	s.mu.Unlock()

	_ = s.transition(ctx, model.StateDisconnected)
	s.reconnectOrStop(ctx)
}

// handleConnectFailure runs when driver.Start itself errors (connect
// failure before any Connected event). Returns true if the caller should
// loop and retry, false if the run loop should exit.
func (s *Supervisor) handleConnectFailure(ctx context.Context, err error) bool {
	s.onError(ctx, model.KindDriverConnect, err.Error())

	s.mu.RLock()
	attempt := s.attempt + 1
	max := s.spec.RetryPolicy.MaxAttempts
	enabled := s.spec.RetryPolicy.Enabled
	s.mu.RUnlock()

	// Connecting -> Reconnecting is the only valid transition on failure;
	// whether the attempt counter has exhausted the budget is then decided
	// from Reconnecting, per the Reconnecting -> Failed transition.
	if err := s.transition(ctx, model.StateReconnecting); err != nil {
		return false
	}

	if !enabled || attempt >= max {
		_ = s.transition(ctx, model.StateFailed)
		return false
	}

	return s.waitBackoffThenConnect(ctx, attempt)
}

// reconnectOrStop is invoked after a Disconnected transition and decides
// whether to move to Reconnecting or stay disconnected (caller's run loop
// exits either way unless reconnecting succeeds in moving to Connecting).
func (s *Supervisor) reconnectOrStop(ctx context.Context) {
	s.mu.RLock()
	enabled := s.spec.Enabled && s.spec.RetryPolicy.Enabled
	attempt := s.attempt + 1
	max := s.spec.RetryPolicy.MaxAttempts
	s.mu.RUnlock()

	if !enabled {
		return
	}

	if err := s.transition(ctx, model.StateReconnecting); err != nil {
		return
	}

	if attempt >= max {
		_ = s.transition(ctx, model.StateFailed)
		return
	}
	s.waitBackoffThenConnect(ctx, attempt)
}

// waitBackoffThenConnect sleeps for the backoff delay (cancellable by ctx),
// then transitions Reconnecting -> Connecting so run()'s next loop
// iteration retries the driver. Returns whether the caller should continue
// the run loop (true) or the context was cancelled mid-backoff (false).
func (s *Supervisor) waitBackoffThenConnect(ctx context.Context, attempt int) bool {
	s.mu.Lock()
	s.attempt = attempt
	s.counters.ReconnectAttempts++
	delay := s.spec.RetryPolicy.BackoffDelay(attempt)
	s.mu.Unlock()

	obs.RecordReconnectDelay(s.spec.ID, delay.Seconds())

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	return s.transition(ctx, model.StateConnecting) == nil
}

// maybeDiscover triggers a C3 discovery sweep if the SourceSpec has no
// explicit point list. Whether a point list is "explicit" is driver-specific
// (a modbus scan range list, an OPC UA subscribed-node list, ...); rather
// than have the supervisor introspect every driver's config schema, spec
// §4.3's "no explicit point list" condition is operationalized as the same
// AutoMapping flag C4 already uses for its own fallback behavior (see
// DESIGN.md's Open Question decisions): AutoMapping true means the device was
// onboarded without a hand-specified shape, so discovery runs and C4 later
// auto-generates the mapping from its result; AutoMapping false means the
// spec already carries an explicit point list, so discovery is skipped.
func (s *Supervisor) maybeDiscover(ctx context.Context) {
	if !s.spec.AutoMapping {
		return
	}
	discoverer, ok := s.driver.(driver.Discoverer)
	if !ok {
		return
	}

	catalog := s.discovery.Run(ctx, s.spec.ID, discoverer)

	if s.bus != nil {
		_ = s.bus.Publish(ctx, &bus.DiscoveryCompleted{
			SourceID:  s.spec.ID,
			ItemCount: len(catalog.Items),
			Error:     catalog.Error,
		})
	}
}

func (s *Supervisor) finishStop(ctx context.Context) {
	_ = s.driver.Stop(context.Background())
	_ = s.transition(context.Background(), model.StateStopped)
}

// Stop cancels the supervisor's run loop and waits up to the grace deadline
// (default 5s) for it to exit, cancelling any in-progress backoff timer
// immediately.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})

	if s.runDone == nil {
		return nil
	}

	deadline, cancel := context.WithTimeout(ctx, s.stopGrace)
	defer cancel()

	select {
	case <-s.runDone:
		return nil
	case <-deadline.Done():
		return fmt.Errorf("supervisor %s: stop grace period exceeded", s.spec.ID)
	}
}

// Write forwards a write request to the driver, rejecting it unless the
// connector is Connected (§4.2).
func (s *Supervisor) Write(ctx context.Context, target string, v any) error {
	if s.State() != model.StateConnected {
		return model.ErrWriteNotConnected
	}
	writer, ok := s.driver.(driver.Writer)
	if !ok {
		return fmt.Errorf("driver for source %s does not support writes", s.spec.ID)
	}
	return writer.Write(ctx, target, v)
}
