// Package mqttdrv is an MQTT driver built on a real client
// (github.com/eclipse/paho.mqtt.golang). It subscribes to a configured topic
// filter and forwards every message as a raw sample, and offers a bounded
// wildcard-subscribe discovery sweep that collects distinct topic names.
package mqttdrv

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mitchellh/mapstructure"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

const (
	defaultDiscoveryWindow = 10 * time.Second
	defaultQoS             = byte(0)
)

// Config is the driver-specific configuration decoded out of a SourceSpec.
type Config struct {
	BrokerURL       string        `mapstructure:"brokerUrl"`
	ClientID        string        `mapstructure:"clientId"`
	Topic           string        `mapstructure:"topic"`
	QoS             byte          `mapstructure:"qos"`
	DiscoveryWindow time.Duration `mapstructure:"discoveryWindow"`
}

// ClientFactory builds an mqtt.Client for a Config, so tests can substitute
// a fake implementing the same paho interface instead of dialing a broker.
type ClientFactory func(cfg Config) mqtt.Client

// Driver subscribes to Config.Topic and forwards every message upward as a
// raw sample, and can run a bounded wildcard-subscribe discovery sweep.
type Driver struct {
	config        Config
	newClient     ClientFactory
	client        mqtt.Client
	excludedNSes  []string

	mu        sync.Mutex
	connected bool
}

// New returns a Driver using paho's real TCP client constructor.
func New() *Driver {
	return &Driver{newClient: defaultClientFactory, excludedNSes: []string{"$SYS"}}
}

// WithClientFactory overrides how the underlying mqtt.Client is constructed,
// for tests that inject a fake client instead of dialing a broker.
func (d *Driver) WithClientFactory(f ClientFactory) *Driver {
	d.newClient = f
	return d
}

func defaultClientFactory(cfg Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false)
	return mqtt.NewClient(opts)
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return cfg, err
	}
	return cfg, decoder.Decode(raw)
}

func (d *Driver) Validate(config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid mqtt config", err)
	}
	if cfg.Topic == "" {
		return model.NewConnectorError("", model.KindConfig, "mqtt config missing topic", nil)
	}
	return nil
}

func (d *Driver) Initialize(config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid mqtt config", err)
	}
	if cfg.DiscoveryWindow <= 0 {
		cfg.DiscoveryWindow = defaultDiscoveryWindow
	}
	d.config = cfg
	return nil
}

func (d *Driver) Start(ctx context.Context, events chan<- driver.Event) error {
	d.client = d.newClient(d.config)

	token := d.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return model.NewConnectorError("", model.KindDriverConnect, "mqtt connect timed out", nil)
	}
	if err := token.Error(); err != nil {
		return model.NewConnectorError("", model.KindDriverConnect, "mqtt connect failed", err)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		sample, err := decodeMessage(msg.Topic(), msg.Payload())
		if err != nil {
			events <- driver.ErrorEvent(model.KindDriverProtocol, err.Error())
			return
		}
		events <- driver.SampleEvent(sample)
	}

	subToken := d.client.Subscribe(d.config.Topic, d.config.QoS, handler)
	if !subToken.WaitTimeout(10 * time.Second) {
		return model.NewConnectorError("", model.KindDriverConnect, "mqtt subscribe timed out", nil)
	}
	if err := subToken.Error(); err != nil {
		return model.NewConnectorError("", model.KindDriverConnect, "mqtt subscribe failed", err)
	}

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()

	events <- driver.ConnectedEvent()

	go func() {
		<-ctx.Done()
	}()
	return nil
}

func decodeMessage(topic string, payload []byte) (value.Value, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return value.Map(map[string]value.Value{
			"topic":   value.String(topic),
			"payload": value.String(string(payload)),
		}), nil
	}

	v := value.FromAny(decoded)
	m, ok := v.AsMap()
	if !ok {
		return value.Map(map[string]value.Value{
			"topic":   value.String(topic),
			"payload": v,
		}), nil
	}
	m["topic"] = value.String(topic)
	return value.Map(m), nil
}

func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()

	if d.client != nil && d.client.IsConnected() {
		if d.config.Topic != "" {
			d.client.Unsubscribe(d.config.Topic)
		}
		d.client.Disconnect(250)
	}
	return nil
}

func (d *Driver) Status() driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.Status{
		Connected: d.connected,
		Stats:     map[string]any{"topic": d.config.Topic},
	}
}

// Discover subscribes to the wildcard filter "#" for a bounded window,
// collecting every distinct topic seen, excluding broker-internal
// namespaces such as "$SYS" (§4.3).
func (d *Driver) Discover(ctx context.Context) ([]model.DiscoveryItem, error) {
	client := d.newClient(d.config)

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, model.NewConnectorError("", model.KindDriverConnect, "mqtt discovery connect timed out", nil)
	}
	if err := token.Error(); err != nil {
		return nil, model.NewConnectorError("", model.KindDriverConnect, "mqtt discovery connect failed", err)
	}
	defer client.Disconnect(250)

	seen := make(map[string]struct{})
	var mu sync.Mutex

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		if d.isExcluded(topic) {
			return
		}
		mu.Lock()
		seen[topic] = struct{}{}
		mu.Unlock()
	}

	subToken := client.Subscribe("#", defaultQoS, handler)
	if !subToken.WaitTimeout(10 * time.Second) {
		return nil, model.NewConnectorError("", model.KindDriverConnect, "mqtt discovery subscribe timed out", nil)
	}

	window := d.config.DiscoveryWindow
	if window <= 0 {
		window = defaultDiscoveryWindow
	}

	select {
	case <-ctx.Done():
	case <-time.After(window):
	}

	client.Unsubscribe("#")

	mu.Lock()
	defer mu.Unlock()

	items := make([]model.DiscoveryItem, 0, len(seen))
	for topic := range seen {
		items = append(items, model.DiscoveryItem{Topic: topic})
	}
	return items, nil
}

func (d *Driver) isExcluded(topic string) bool {
	for _, ns := range d.excludedNSes {
		if strings.HasPrefix(topic, ns) {
			return true
		}
	}
	return false
}

func init() {
	driver.Register(model.DriverMQTT, nil, func() driver.Driver {
		return New()
	})
}

var (
	_ driver.Driver     = (*Driver)(nil)
	_ driver.Discoverer = (*Driver)(nil)
)
