package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs every message that passes through the bus.
type LoggingMiddleware struct {
	LogLevel string
}

func NewLoggingMiddleware(logLevel string) *LoggingMiddleware {
	return &LoggingMiddleware{LogLevel: logLevel}
}

func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	log.Printf("bus: %s %s", message.Category(), GetMessageType(message))
	return message, nil
}

func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if err != nil {
		log.Printf("bus: %s failed: %v", msgType, err)
	} else {
		log.Printf("bus: %s completed", msgType)
	}
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// CircuitBreakerState tracks one message type's breaker state.
type CircuitBreakerState struct {
	Failures    int
	LastFailure time.Time
	State       string // "closed", "open", "half-open"
}

// CircuitBreakerMiddleware trips after repeated failures for a message type
// and blocks further dispatch until resetTimeout elapses. It is opt-in: the
// gateway binary does not install it on its bus.
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*CircuitBreakerState
	mu               sync.Mutex
}

func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{})
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}

	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*CircuitBreakerState),
	}
}

func (m *CircuitBreakerMiddleware) getState(msgType string) *CircuitBreakerState {
	if _, exists := m.states[msgType]; !exists {
		m.states[msgType] = &CircuitBreakerState{State: "closed"}
	}
	return m.states[msgType]
}

func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	now := time.Now()

	if state.State == "open" {
		if now.Sub(state.LastFailure) >= m.resetTimeout {
			state.State = "half-open"
			log.Printf("bus: circuit half-open for %s", msgType)
		} else {
			log.Printf("bus: circuit open for %s, blocking dispatch", msgType)
			return nil, nil
		}
	}

	return message, nil
}

func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	now := time.Now()

	if err != nil {
		state.Failures++
		state.LastFailure = now

		if state.State == "half-open" {
			state.State = "open"
			log.Printf("bus: circuit reopened for %s", msgType)
		} else if m.failureThreshold > 0 && state.Failures >= m.failureThreshold {
			state.State = "open"
			log.Printf("bus: circuit opened for %s after %d failures", msgType, state.Failures)
		}
	} else if state.State == "half-open" {
		state.State = "closed"
		state.Failures = 0
		log.Printf("bus: circuit closed for %s", msgType)
	}

	return result, nil
}

// GetStates returns a snapshot of every tracked message type's breaker state.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string)
	for k, v := range m.states {
		result[k] = v.State
	}
	return result
}

// Reset clears breaker state for a single message type, or all of them when
// msgType is nil.
func (m *CircuitBreakerMiddleware) Reset(msgType *string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType != nil {
		delete(m.states, *msgType)
	} else {
		m.states = make(map[string]*CircuitBreakerState)
	}
}

var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
