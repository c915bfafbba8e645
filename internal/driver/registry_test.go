package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

type fakeDriver struct{}

func (f *fakeDriver) Validate(config map[string]any) error                       { return nil }
func (f *fakeDriver) Initialize(config map[string]any) error                     { return nil }
func (f *fakeDriver) Start(ctx context.Context, events chan<- Event) error       { return nil }
func (f *fakeDriver) Stop(ctx context.Context) error                             { return nil }
func (f *fakeDriver) Status() Status                                            { return Status{} }

func TestRegistryResolvesCanonicalAndAliases(t *testing.T) {
	r := NewRegistry()
	r.Register(model.DriverOPCUA, []string{"opc-ua"}, func() Driver { return &fakeDriver{} })

	canonical, ok := r.Resolve("opcua")
	require.True(t, ok)
	assert.Equal(t, model.DriverOPCUA, canonical)

	canonical, ok = r.Resolve("opc-ua")
	require.True(t, ok)
	assert.Equal(t, model.DriverOPCUA, canonical)

	canonical, ok = r.Resolve("OPC-UA")
	require.True(t, ok)
	assert.Equal(t, model.DriverOPCUA, canonical)
}

func TestRegistryResolvesModbusAliasVariants(t *testing.T) {
	r := NewRegistry()
	r.Register(model.DriverModbus, []string{"modbus-tcp", "modbus/tcp"}, func() Driver { return &fakeDriver{} })

	for _, tag := range []string{"modbus", "modbus-tcp", "modbus/tcp", "MODBUS_TCP"} {
		canonical, ok := r.Resolve(tag)
		require.True(t, ok, "tag %q should resolve", tag)
		assert.Equal(t, model.DriverModbus, canonical)
	}
}

func TestRegistryUnknownTagDoesNotResolve(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("does-not-exist")
	assert.False(t, ok)
}

func TestRegistryCreateConstructsDriver(t *testing.T) {
	r := NewRegistry()
	r.Register(model.DriverHTTP, nil, func() Driver { return &fakeDriver{} })

	d, err := r.Create("http")
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestRegistryCreateUnknownTagErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("bacnet")
	assert.Error(t, err)
}

func TestRegistryCreateUnimplementedDriverWrapsSentinel(t *testing.T) {
	r := NewRegistry()
	r.aliases["bacnet"] = model.DriverBACnet
	// no factory registered for DriverBACnet

	_, err := r.Create("bacnet")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDriverNotImplemented)
}

func TestRegistryRegisteredTypes(t *testing.T) {
	r := NewRegistry()
	r.Register(model.DriverHTTP, nil, func() Driver { return &fakeDriver{} })
	r.Register(model.DriverMQTT, nil, func() Driver { return &fakeDriver{} })

	types := r.RegisteredTypes()
	assert.Len(t, types, 2)
}
