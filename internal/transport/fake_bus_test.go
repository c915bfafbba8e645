package transport

import (
	"context"
	"sync"

	"github.com/jeeves-cluster-organization/acqgateway/internal/bus"
)

// fakeBus is a minimal bus.Bus recording every published event, for tests
// that don't need real fan-out/query/middleware behavior.
type fakeBus struct {
	mu        sync.Mutex
	published []bus.Message
	publishErr error
}

func (b *fakeBus) Publish(ctx context.Context, event bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
	return b.publishErr
}

func (b *fakeBus) Send(ctx context.Context, command bus.Message) error { return nil }
func (b *fakeBus) QuerySync(ctx context.Context, query bus.Query) (any, error) {
	return nil, nil
}
func (b *fakeBus) Subscribe(eventType string, handler bus.HandlerFunc) func() { return func() {} }
func (b *fakeBus) RegisterHandler(messageType string, handler bus.HandlerFunc) error { return nil }
func (b *fakeBus) AddMiddleware(middleware bus.Middleware)                           {}
func (b *fakeBus) HasHandler(messageType string) bool                               { return false }
func (b *fakeBus) GetSubscribers(eventType string) []bus.HandlerFunc                { return nil }
func (b *fakeBus) Clear()                                                           {}

func (b *fakeBus) eventsOfType(name string) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Message
	for _, m := range b.published {
		if bus.GetMessageType(m) == name {
			out = append(out, m)
		}
	}
	return out
}

var _ bus.Bus = (*fakeBus)(nil)
