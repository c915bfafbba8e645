package mqttdrv

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an already-resolved mqtt.Token used by fakeClient.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// fakeMessage is a minimal mqtt.Message for delivering synthetic payloads to
// a subscribed handler.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeClient is an in-process stand-in for mqtt.Client: Subscribe registers a
// handler that deliver() invokes directly, with no network involved.
type fakeClient struct {
	connected   bool
	handlers    map[string]mqtt.MessageHandler
	publishedTo []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool       { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool  { return c.connected }
func (c *fakeClient) Connect() mqtt.Token {
	c.connected = true
	return &fakeToken{}
}
func (c *fakeClient) Disconnect(quiesce uint) { c.connected = false }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.publishedTo = append(c.publishedTo, topic)
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.handlers[topic] = callback
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		c.handlers[topic] = callback
	}
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return &fakeToken{}
}

func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.handlers[topic] = callback
}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// deliver invokes the handler registered for topic (or "#" as a fallback),
// simulating a broker pushing a message to this subscriber.
func (c *fakeClient) deliver(topic string, payload []byte) {
	if h, ok := c.handlers[topic]; ok {
		h(c, &fakeMessage{topic: topic, payload: payload})
		return
	}
	if h, ok := c.handlers["#"]; ok {
		h(c, &fakeMessage{topic: topic, payload: payload})
	}
}

var _ mqtt.Client = (*fakeClient)(nil)
