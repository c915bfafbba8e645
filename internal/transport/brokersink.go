package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// BrokerClientFactory builds an mqtt.Client for a SinkSpec, so tests can
// inject a fake implementing the same paho interface instead of dialing a
// broker — the same seam internal/driver/mqttdrv uses for its driver-side
// client.
type BrokerClientFactory func(spec model.SinkSpec) mqtt.Client

// BrokerSink publishes onto an MQTT broker, the "broker" transport variant
// of spec §4.6. Topic is derived as "<base>/<type>/<id>"; QoS and retain
// come from the SinkSpec.
type BrokerSink struct {
	name    string
	spec    model.SinkSpec
	factory BrokerClientFactory

	mu     sync.Mutex
	client mqtt.Client
}

// NewBrokerSink returns a Sink using paho's real TCP client constructor.
func NewBrokerSink(spec model.SinkSpec) *BrokerSink {
	return &BrokerSink{name: spec.Name, spec: spec, factory: defaultBrokerClientFactory}
}

// WithClientFactory overrides how the underlying mqtt.Client is constructed.
func (s *BrokerSink) WithClientFactory(f BrokerClientFactory) *BrokerSink {
	s.factory = f
	return s
}

func defaultBrokerClientFactory(spec model.SinkSpec) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(spec.Endpoint).
		SetClientID("acqgateway-sink-" + spec.Name).
		SetAutoReconnect(true)
	if user, ok := spec.Credentials["username"]; ok {
		opts.SetUsername(user)
		opts.SetPassword(spec.Credentials["password"])
	}
	return mqtt.NewClient(opts)
}

func (s *BrokerSink) Name() string { return s.name }

// Connect pre-establishes the broker connection (transport.Connectable).
func (s *BrokerSink) Connect(ctx context.Context) error { return s.ensureConnected() }

func (s *BrokerSink) ensureConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		return nil
	}
	if s.client == nil {
		s.client = s.factory(s.spec)
	}
	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("broker sink %s: connect timed out", s.name)
	}
	return token.Error()
}

func (s *BrokerSink) Publish(ctx context.Context, record model.CanonicalRecord) Result {
	if err := s.ensureConnected(); err != nil {
		return Retriable(err.Error())
	}

	format := s.spec.Format
	if format == "" {
		format = model.FormatCompact
	}
	payload, err := Encode(record, format)
	if err != nil {
		return Fatal("encoding record: " + err.Error())
	}

	topic := fmt.Sprintf("%s/%s/%s", s.spec.Endpoint, record.Type, record.Metadata.SourceID)
	qos := byte(s.spec.QoS)

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	token := client.Publish(topic, qos, s.spec.Retain, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return Retriable(fmt.Sprintf("broker sink %s: publish timed out", s.name))
	}
	if err := token.Error(); err != nil {
		return Retriable(err.Error())
	}
	return OK()
}

func (s *BrokerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

var (
	_ Sink        = (*BrokerSink)(nil)
	_ Connectable = (*BrokerSink)(nil)
)
