// Package modbus is a simulated Modbus driver: an in-memory register map
// polled on an interval, plus batch-scan discovery across the four register
// address spaces. Real Modbus TCP/RTU wire encoding is out of scope (§1);
// this package exists to exercise the Connector Driver Interface and the
// discovery Testable Properties (S1, S2) end-to-end without a real PLC.
package modbus

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

// PointSpec names one register to poll and the canonical field it surfaces
// as in the raw sample.
type PointSpec struct {
	Name     string       `mapstructure:"name"`
	Address  int          `mapstructure:"address"`
	RegType  RegisterType `mapstructure:"registerType"`
	DataType string       `mapstructure:"dataType"` // int16, uint16, bool
}

// ScanRange is one contiguous address range a discovery sweep probes.
type ScanRange struct {
	RegType RegisterType `mapstructure:"registerType"`
	Start   int          `mapstructure:"start"`
	End     int          `mapstructure:"end"` // inclusive
}

// Config is the driver-specific configuration block decoded out of a
// SourceSpec's Config map.
type Config struct {
	UnitID          int           `mapstructure:"unitId"`
	Points          []PointSpec   `mapstructure:"points"`
	ScanRanges      []ScanRange   `mapstructure:"scanRanges"`
	PollingInterval time.Duration `mapstructure:"pollingInterval"`
}

const (
	defaultPollingInterval = time.Second
	scanBatchSize          = 10
	scanBatchDelay         = 5 * time.Millisecond
)

// Driver polls a Device on an interval, decoding each configured point into
// a raw sample tree keyed by point name.
type Driver struct {
	config Config
	device Device

	stopCh chan struct{}
	doneCh chan struct{}

	connected bool
}

// New returns a Driver backed by an in-memory simulated device. Tests may
// reach into the returned Driver's Device field (via WithDevice) to seed
// register values before Start.
func New() *Driver {
	return &Driver{device: NewInMemoryDevice()}
}

// WithDevice overrides the simulated device, for tests that need to seed or
// inspect register state directly.
func (d *Driver) WithDevice(dev Device) *Driver {
	d.device = dev
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
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid modbus config", err)
	}
	for _, p := range cfg.Points {
		if p.Name == "" {
			return model.NewConnectorError("", model.KindConfig, "modbus point missing name", nil)
		}
	}
	return nil
}

func (d *Driver) Initialize(config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid modbus config", err)
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = defaultPollingInterval
	}
	d.config = cfg
	if d.device == nil {
		d.device = NewInMemoryDevice()
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
	fields := make(map[string]value.Value, len(d.config.Points))
	for _, p := range d.config.Points {
		v, err := d.readPoint(p)
		if err != nil {
			return value.Null(), fmt.Errorf("point %s: %w", p.Name, err)
		}
		fields[p.Name] = v
	}
	return value.Map(fields), nil
}

func (d *Driver) readPoint(p PointSpec) (value.Value, error) {
	switch p.RegType {
	case RegisterHolding, RegisterInput:
		words, err := d.readWords(p.RegType, p.Address)
		if err != nil {
			return value.Null(), err
		}
		return decodeWord(words[0], p.DataType), nil
	case RegisterCoil, RegisterDiscrete:
		bits, err := d.readBits(p.RegType, p.Address)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(bits[0]), nil
	default:
		return value.Null(), fmt.Errorf("unknown register type %q", p.RegType)
	}
}

func (d *Driver) readWords(regType RegisterType, address int) ([]uint16, error) {
	if regType == RegisterHolding {
		return d.device.ReadHolding(address, 1)
	}
	return d.device.ReadInput(address, 1)
}

func (d *Driver) readBits(regType RegisterType, address int) ([]bool, error) {
	if regType == RegisterCoil {
		return d.device.ReadCoils(address, 1)
	}
	return d.device.ReadDiscrete(address, 1)
}

func decodeWord(w uint16, dataType string) value.Value {
	if dataType == "int16" {
		return value.Int(int64(int16(w)))
	}
	return value.Int(int64(w))
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
			"pointCount": len(d.config.Points),
		},
	}
}

// Discover batch-scans every configured ScanRange in groups of 10 addresses
// with a small inter-batch delay, recording every responsive register as a
// DiscoveryItem (§4.3).
func (d *Driver) Discover(ctx context.Context) ([]model.DiscoveryItem, error) {
	var items []model.DiscoveryItem

	for _, sr := range d.config.ScanRanges {
		for batchStart := sr.Start; batchStart <= sr.End; batchStart += scanBatchSize {
			batchEnd := batchStart + scanBatchSize - 1
			if batchEnd > sr.End {
				batchEnd = sr.End
			}

			for addr := batchStart; addr <= batchEnd; addr++ {
				if d.device.Probe(sr.RegType, addr) {
					items = append(items, model.DiscoveryItem{
						RegisterSet: string(sr.RegType),
						Address:     addr,
					})
				}
			}

			select {
			case <-ctx.Done():
				return items, ctx.Err()
			case <-time.After(scanBatchDelay):
			}
		}
	}

	return items, nil
}

func init() {
	driver.Register(model.DriverModbus, []string{"modbus-tcp", "modbus/tcp", "modbus-rtu"}, func() driver.Driver {
		return New()
	})
}

var (
	_ driver.Driver     = (*Driver)(nil)
	_ driver.Discoverer = (*Driver)(nil)
)
