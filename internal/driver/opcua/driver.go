// Package opcua is a simulated OPC UA driver: an in-memory address space
// rooted at the well-known Objects node, polled on an interval for
// subscribed variables, with bounded-depth recursive browse discovery. Real
// OPC UA secure-channel transport and certificate handling are out of scope
// (§1) — any self-signed certificate generation a production client would
// need stays local to this package and is never exposed through the C1
// contract.
package opcua

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

const (
	defaultPollingInterval = time.Second
	maxBrowseDepth         = 3
)

// Config is the driver-specific configuration decoded out of a SourceSpec.
type Config struct {
	EndpointURL     string        `mapstructure:"endpointUrl"`
	SubscribedNodes []string      `mapstructure:"subscribedNodes"`
	PollingInterval time.Duration `mapstructure:"pollingInterval"`
}

// Driver polls a simulated AddressSpace's subscribed variable nodes.
type Driver struct {
	config Config
	space  *AddressSpace

	stopCh chan struct{}
	doneCh chan struct{}

	connected bool
}

// New returns a Driver backed by a fresh, empty simulated address space.
func New() *Driver {
	return &Driver{space: NewAddressSpace()}
}

// WithAddressSpace overrides the simulated address space, for tests that
// need to pre-populate the object/variable tree.
func (d *Driver) WithAddressSpace(space *AddressSpace) *Driver {
	d.space = space
	return d
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
	_, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid opcua config", err)
	}
	return nil
}

func (d *Driver) Initialize(config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid opcua config", err)
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = defaultPollingInterval
	}
	d.config = cfg
	if d.space == nil {
		d.space = NewAddressSpace()
	}
	return nil
}

func (d *Driver) Start(ctx context.Context, events chan<- driver.Event) error {
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.connected = true

	events <- driver.ConnectedEvent()

	go d.pollLoop(ctx, events)
	return nil
}

func (d *Driver) pollLoop(ctx context.Context, events chan<- driver.Event) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			sample, err := d.readSample()
			if err != nil {
				events <- driver.ErrorEvent(model.KindDriverProtocol, err.Error())
				continue
			}
			events <- driver.SampleEvent(sample)
		}
	}
}

func (d *Driver) readSample() (value.Value, error) {
	fields := make(map[string]value.Value, len(d.config.SubscribedNodes))
	for _, nodeID := range d.config.SubscribedNodes {
		n, ok := d.space.Node(nodeID)
		if !ok {
			return value.Null(), fmt.Errorf("subscribed node %s not found", nodeID)
		}
		if n.NodeClass != "Variable" {
			return value.Null(), fmt.Errorf("subscribed node %s is not a Variable", nodeID)
		}
		fields[n.BrowseName] = value.FromAny(n.Value)
	}
	return value.Map(fields), nil
}

func (d *Driver) Stop(ctx context.Context) error {
	d.connected = false
	if d.stopCh == nil {
		return nil
	}
	close(d.stopCh)

	select {
	case <-d.doneCh:
	case <-ctx.Done():
	}
	return nil
}

func (d *Driver) Status() driver.Status {
	return driver.Status{
		Connected: d.connected,
		Stats: map[string]any{
			"subscribedCount": len(d.config.SubscribedNodes),
		},
	}
}

// Write sets a Variable node's value, as if pushing a setpoint to the device.
func (d *Driver) Write(ctx context.Context, target string, v any) error {
	n, ok := d.space.Node(target)
	if !ok {
		return fmt.Errorf("node %s not found", target)
	}
	if n.NodeClass != "Variable" {
		return fmt.Errorf("node %s is not writable", target)
	}
	d.space.SetValue(target, v)
	return nil
}

// Discover walks the address space from Objects down to maxBrowseDepth,
// recording every node's {nodeId, browseName, displayName, nodeClass,
// dataType} (§4.1, §4.3).
func (d *Driver) Discover(ctx context.Context) ([]model.DiscoveryItem, error) {
	var items []model.DiscoveryItem
	d.browse(d.space.Root(), 0, &items)
	return items, nil
}

func (d *Driver) browse(nodeID string, depth int, out *[]model.DiscoveryItem) {
	if depth > maxBrowseDepth {
		return
	}
	n, ok := d.space.Node(nodeID)
	if !ok {
		return
	}

	if nodeID != d.space.Root() {
		*out = append(*out, model.DiscoveryItem{
			NodeID:      n.NodeID,
			BrowseName:  n.BrowseName,
			DisplayName: n.DisplayName,
			NodeClass:   n.NodeClass,
			DataType:    n.DataType,
		})
	}

	for _, child := range n.Children {
		d.browse(child, depth+1, out)
	}
}

func init() {
	driver.Register(model.DriverOPCUA, []string{"opc-ua", "opc_ua"}, func() driver.Driver {
		return New()
	})
}

var (
	_ driver.Driver     = (*Driver)(nil)
	_ driver.Discoverer = (*Driver)(nil)
	_ driver.Writer     = (*Driver)(nil)
)
