package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

func TestStubDriversRegisteredInDefaultRegistry(t *testing.T) {
	for _, tag := range []string{"s7", "fins", "melsec", "cip", "bacnet", "profinet", "ethercat", "serial", "aas"} {
		_, ok := driver.Default.Resolve(tag)
		assert.True(t, ok, "tag %q should be registered", tag)
	}
}

func TestStubDriverValidateAndInitializeSucceed(t *testing.T) {
	d := &Driver{tag: model.DriverBACnet}

	assert.NoError(t, d.Validate(nil))
	assert.NoError(t, d.Initialize(nil))
}

func TestStubDriverStartReturnsNotImplemented(t *testing.T) {
	d := &Driver{tag: model.DriverS7}
	events := make(chan driver.Event, 1)

	err := d.Start(context.Background(), events)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDriverNotImplemented)
}

func TestStubDriverStopAndStatus(t *testing.T) {
	d := &Driver{tag: model.DriverFins}

	assert.NoError(t, d.Stop(context.Background()))

	status := d.Status()
	assert.False(t, status.Connected)
	assert.Equal(t, "fins", status.Stats["tag"])
}
