// Package stub registers the nine wire-protocol tags the acquisition
// engine's closed driver set names but does not implement a real stack for
// (s7, fins, melsec, cip, bacnet, profinet, ethercat, serial, aas — real
// protocol decoders are explicitly out of scope). Each registers a Driver
// that passes Validate/Initialize but fails Start with
// model.ErrDriverNotImplemented, keeping the tagged-variant set complete
// without fabricating nine protocol stacks.
package stub

import (
	"context"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// Driver implements the C1 contract for a protocol tag with no real
// implementation in this repository.
type Driver struct {
	tag model.DriverType
}

func (d *Driver) Validate(config map[string]any) error { return nil }

func (d *Driver) Initialize(config map[string]any) error { return nil }

func (d *Driver) Start(ctx context.Context, events chan<- Event) error {
	return model.ErrDriverNotImplemented
}

func (d *Driver) Stop(ctx context.Context) error { return nil }

func (d *Driver) Status() driver.Status {
	return driver.Status{Connected: false, Stats: map[string]any{"tag": string(d.tag)}}
}

// Event is a type alias so Start's signature matches driver.Driver without
// importing driver twice under two names in the method body above.
type Event = driver.Event

func register(tag model.DriverType, aliases []string) {
	driver.Register(tag, aliases, func() driver.Driver {
		return &Driver{tag: tag}
	})
}

func init() {
	register(model.DriverS7, nil)
	register(model.DriverFins, nil)
	register(model.DriverMelsec, nil)
	register(model.DriverCIP, nil)
	register(model.DriverBACnet, nil)
	register(model.DriverProfinet, nil)
	register(model.DriverEtherCAT, nil)
	register(model.DriverSerial, nil)
	register(model.DriverAAS, nil)
}

var _ driver.Driver = (*Driver)(nil)
