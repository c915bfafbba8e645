package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the logging interface the bus depends on. Kept separate from
// internal/obslog.Logger so this package has no dependency on the rest of
// the engine's ambient stack.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// defaultLogger wraps the standard log package.
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, keysAndValues ...any) { log.Printf("[DEBUG] %s %v", msg, keysAndValues) }
func (l *defaultLogger) Info(msg string, keysAndValues ...any)  { log.Printf("[INFO] %s %v", msg, keysAndValues) }
func (l *defaultLogger) Warn(msg string, keysAndValues ...any)  { log.Printf("[WARN] %s %v", msg, keysAndValues) }
func (l *defaultLogger) Error(msg string, keysAndValues ...any) { log.Printf("[ERROR] %s %v", msg, keysAndValues) }

// noopLogger discards everything.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, keysAndValues ...any) {}
func (l *noopLogger) Info(msg string, keysAndValues ...any)  {}
func (l *noopLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *noopLogger) Error(msg string, keysAndValues ...any) {}

// NoopLogger returns a Logger that discards all output.
func NoopLogger() Logger {
	return &noopLogger{}
}

// subscriberEntry holds a subscriber with its unique ID, for unsubscribe.
type subscriberEntry struct {
	id      string
	handler HandlerFunc
}

// InMemoryBus is a thread-safe, single-process implementation of Bus.
//
// Features:
//   - Event fan-out to multiple subscribers
//   - Query request-response with timeout
//   - Command dispatch to a single handler, returning its error
//   - Middleware chain for cross-cutting concerns (logging, circuit breaking)
//   - Handler introspection
//
// Usage:
//
//	b := NewInMemoryBus(5 * time.Second)
//
//	b.RegisterHandler("GetSourceStatus", statusHandler)
//	b.Subscribe("SampleReceived", mappingHandler)
//
//	b.Publish(ctx, &SampleReceived{SourceID: "plc-1", Driver: "modbus"})
//	status, _ := b.QuerySync(ctx, &GetSourceStatus{SourceID: "plc-1"})
type InMemoryBus struct {
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscriberEntry
	middleware   []Middleware
	queryTimeout time.Duration
	nextSubID    uint64
	logger       Logger
	mu           sync.RWMutex
}

// NewInMemoryBus creates a new InMemoryBus with the default logger.
func NewInMemoryBus(queryTimeout time.Duration) *InMemoryBus {
	return NewInMemoryBusWithLogger(queryTimeout, &defaultLogger{})
}

// NewInMemoryBusWithLogger creates a new InMemoryBus with a custom logger.
func NewInMemoryBusWithLogger(queryTimeout time.Duration, logger Logger) *InMemoryBus {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &InMemoryBus{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscriberEntry),
		middleware:   make([]Middleware, 0),
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// SetLogger replaces the bus's logger. Use NoopLogger() to disable logging.
func (b *InMemoryBus) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = &defaultLogger{}
	}
	b.logger = logger
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish fans an event out to every subscriber concurrently. Subscriber
// errors are logged but never stop other subscribers from running.
func (b *InMemoryBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)

	processedEvent, err := b.runMiddlewareBefore(ctx, event)
	if err != nil {
		return err
	}
	if processedEvent == nil {
		b.logger.Debug("event_aborted_by_middleware", "event_type", eventType)
		return nil
	}

	b.mu.RLock()
	entries := b.subscribers[eventType]
	entriesCopy := make([]subscriberEntry, len(entries))
	copy(entriesCopy, entries)
	b.mu.RUnlock()

	if len(entriesCopy) == 0 {
		b.logger.Debug("no_subscribers_for_event", "event_type", eventType)
		_, _ = b.runMiddlewareAfter(ctx, event, nil, nil)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(entriesCopy))

	for i, entry := range entriesCopy {
		wg.Add(1)
		go func(idx int, h HandlerFunc) {
			defer wg.Done()
			_, err := h(ctx, processedEvent)
			if err != nil {
				errs[idx] = err
				b.logger.Warn("subscriber_failed", "subscriber_idx", idx, "event_type", eventType, "error", err.Error())
			}
		}(i, entry.handler)
	}

	wg.Wait()

	var firstError error
	for _, e := range errs {
		if e != nil {
			firstError = e
			break
		}
	}

	_, _ = b.runMiddlewareAfter(ctx, event, nil, firstError)
	return nil
}

// Send delivers a command to its single registered handler, runs it
// synchronously and returns the handler's error. A command with no
// registered handler is dropped and Send returns nil.
func (b *InMemoryBus) Send(ctx context.Context, command Message) error {
	messageType := GetMessageType(command)

	processed, err := b.runMiddlewareBefore(ctx, command)
	if err != nil {
		return err
	}
	if processed == nil {
		b.logger.Debug("command_aborted_by_middleware", "message_type", messageType)
		return nil
	}

	b.mu.RLock()
	handler, exists := b.handlers[messageType]
	b.mu.RUnlock()

	if !exists {
		b.logger.Debug("no_handler_for_command", "message_type", messageType)
		return nil
	}

	_, handlerError := handler(ctx, processed)
	if handlerError != nil {
		b.logger.Warn("command_handler_failed", "message_type", messageType, "error", handlerError.Error())
	}

	_, _ = b.runMiddlewareAfter(ctx, command, nil, handlerError)
	return handlerError
}

// QuerySync sends a query to its handler and waits for a response, bounded
// by the bus's queryTimeout.
func (b *InMemoryBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)

	processed, err := b.runMiddlewareBefore(ctx, query)
	if err != nil {
		return nil, err
	}
	if processed == nil {
		return nil, NewNoHandlerError(messageType)
	}

	b.mu.RLock()
	handler, exists := b.handlers[messageType]
	b.mu.RUnlock()

	if !exists {
		return nil, NewNoHandlerError(messageType)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, e := handler(timeoutCtx, processed.(Message))
		resultCh <- result{value: v, err: e}
	}()

	select {
	case <-timeoutCtx.Done():
		err := NewQueryTimeoutError(messageType, b.queryTimeout.Seconds())
		_, _ = b.runMiddlewareAfter(ctx, query, nil, err)
		return nil, err
	case res := <-resultCh:
		finalResult, middlewareErr := b.runMiddlewareAfter(ctx, query, res.value, res.err)
		if middlewareErr != nil {
			return finalResult, middlewareErr
		}
		return finalResult, res.err
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe registers a fan-out handler for an event type and returns an
// idempotent unsubscribe function.
func (b *InMemoryBus) Subscribe(eventType string, handler HandlerFunc) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&b.nextSubID, 1))

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: subID, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("subscribed", "event_type", eventType, "sub_id", subID)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		entries := b.subscribers[eventType]
		for i, entry := range entries {
			if entry.id == subID {
				b.subscribers[eventType] = append(entries[:i], entries[i+1:]...)
				b.logger.Debug("unsubscribed", "event_type", eventType, "sub_id", subID)
				return
			}
		}
	}
}

// RegisterHandler registers the single handler for a message type. Returns
// an error if one is already registered.
func (b *InMemoryBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[messageType]; exists {
		return NewHandlerAlreadyRegisteredError(messageType)
	}

	b.handlers[messageType] = handler
	b.logger.Debug("handler_registered", "message_type", messageType)
	return nil
}

// AddMiddleware appends middleware, run in registration order on Before and
// reverse order on After.
func (b *InMemoryBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.middleware = append(b.middleware, middleware)
	b.logger.Debug("middleware_added")
}

// =============================================================================
// INTROSPECTION
// =============================================================================

func (b *InMemoryBus) HasHandler(messageType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.handlers[messageType]
	return exists
}

func (b *InMemoryBus) GetSubscribers(eventType string) []HandlerFunc {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.subscribers[eventType]
	result := make([]HandlerFunc, len(entries))
	for i, entry := range entries {
		result[i] = entry.handler
	}
	return result
}

func (b *InMemoryBus) GetRegisteredTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make(map[string]struct{})
	for t := range b.handlers {
		types[t] = struct{}{}
	}
	for t := range b.subscribers {
		types[t] = struct{}{}
	}

	result := make([]string, 0, len(types))
	for t := range types {
		result = append(result, t)
	}
	return result
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Clear removes every handler, subscriber, and middleware. Intended for tests.
func (b *InMemoryBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[string]HandlerFunc)
	b.subscribers = make(map[string][]subscriberEntry)
	b.middleware = make([]Middleware, 0)
	b.logger.Debug("bus_cleared")
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (b *InMemoryBus) runMiddlewareBefore(ctx context.Context, message Message) (Message, error) {
	b.mu.RLock()
	middlewareCopy := make([]Middleware, len(b.middleware))
	copy(middlewareCopy, b.middleware)
	b.mu.RUnlock()

	current := message
	for _, mw := range middlewareCopy {
		result, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

func (b *InMemoryBus) runMiddlewareAfter(ctx context.Context, message Message, result any, err error) (any, error) {
	b.mu.RLock()
	middlewareCopy := make([]Middleware, len(b.middleware))
	copy(middlewareCopy, b.middleware)
	b.mu.RUnlock()

	currentResult := result
	for i := len(middlewareCopy) - 1; i >= 0; i-- {
		afterResult, afterErr := middlewareCopy[i].After(ctx, message, currentResult, err)
		if afterErr != nil {
			err = afterErr
		}
		if afterResult != nil {
			currentResult = afterResult
		}
	}
	return currentResult, err
}

var _ Bus = (*InMemoryBus)(nil)
