package transport

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an already-resolved mqtt.Token, optionally carrying an error,
// for driving BrokerSink through a fake client rather than a real broker —
// the same seam internal/driver/mqttdrv uses on the driver side.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakePublishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	connected  bool
	connectErr error
	publishErr error
	published  []fakePublishedMessage
}

func (c *fakeMQTTClient) IsConnected() bool      { return c.connected }
func (c *fakeMQTTClient) IsConnectionOpen() bool { return c.connected }
func (c *fakeMQTTClient) Connect() mqtt.Token {
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}
func (c *fakeMQTTClient) Disconnect(quiesce uint) { c.connected = false }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	data, _ := payload.([]byte)
	c.published = append(c.published, fakePublishedMessage{topic: topic, qos: qos, retained: retained, payload: data})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token { return &fakeToken{} }
func (c *fakeMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (c *fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

var _ mqtt.Client = (*fakeMQTTClient)(nil)
