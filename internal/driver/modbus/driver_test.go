package modbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
)

func TestDriverStartEmitsConnectedThenSample(t *testing.T) {
	dev := NewInMemoryDevice()
	dev.SetHolding(100, uint16(int16(-42)))

	d := New().WithDevice(dev)
	require.NoError(t, d.Initialize(map[string]any{
		"pollingInterval": "10ms",
		"points": []map[string]any{
			{"name": "temp", "address": 100, "registerType": "holding", "dataType": "int16"},
		},
	}))

	events := make(chan driver.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx, events))
	defer d.Stop(context.Background())

	first := <-events
	assert.Equal(t, driver.EventConnected, first.Kind)

	select {
	case ev := <-events:
		require.Equal(t, driver.EventSample, ev.Kind)
		temp, ok := ev.Sample.Get("temp")
		require.True(t, ok)
		v, ok := temp.AsInt()
		require.True(t, ok)
		assert.Equal(t, int64(-42), v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample event")
	}
}

func TestDriverStopIsIdempotentSafe(t *testing.T) {
	d := New()
	require.NoError(t, d.Initialize(map[string]any{"pollingInterval": "10ms"}))

	assert.NoError(t, d.Stop(context.Background()))
}

func TestDriverStopStopsPolling(t *testing.T) {
	dev := NewInMemoryDevice()
	dev.SetHolding(1, 7)

	d := New().WithDevice(dev)
	require.NoError(t, d.Initialize(map[string]any{
		"pollingInterval": "5ms",
		"points": []map[string]any{
			{"name": "v", "address": 1, "registerType": "holding", "dataType": "uint16"},
		},
	}))

	events := make(chan driver.Event, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx, events))
	<-events // connected

	require.NoError(t, d.Stop(context.Background()))

	status := d.Status()
	assert.False(t, status.Connected)
}

func TestDriverValidateRejectsUnnamedPoint(t *testing.T) {
	d := New()
	err := d.Validate(map[string]any{
		"points": []map[string]any{{"address": 1, "registerType": "holding"}},
	})
	assert.Error(t, err)
}

func TestDriverValidateAcceptsWellFormedConfig(t *testing.T) {
	d := New()
	err := d.Validate(map[string]any{
		"points": []map[string]any{
			{"name": "temp", "address": 100, "registerType": "holding", "dataType": "int16"},
		},
	})
	assert.NoError(t, err)
}

func TestDriverDiscoverBatchScansRanges(t *testing.T) {
	dev := NewInMemoryDevice()
	dev.SetHolding(5, 1)
	dev.SetHolding(17, 1)
	dev.SetCoil(3, true)

	d := New().WithDevice(dev)
	require.NoError(t, d.Initialize(map[string]any{
		"scanRanges": []map[string]any{
			{"registerType": "holding", "start": 0, "end": 20},
			{"registerType": "coils", "start": 0, "end": 10},
		},
	}))

	items, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	byAddr := map[int]string{}
	for _, it := range items {
		byAddr[it.Address] = it.RegisterSet
	}
	assert.Equal(t, "holding", byAddr[5])
	assert.Equal(t, "holding", byAddr[17])
	assert.Equal(t, "coils", byAddr[3])
}

func TestDriverDiscoverRespectsContextCancellation(t *testing.T) {
	dev := NewInMemoryDevice()
	d := New().WithDevice(dev)
	require.NoError(t, d.Initialize(map[string]any{
		"scanRanges": []map[string]any{
			{"registerType": "holding", "start": 0, "end": 1000},
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Discover(ctx)
	assert.Error(t, err)
}

func TestModbusRegisteredUnderAliases(t *testing.T) {
	for _, tag := range []string{"modbus", "modbus-tcp", "modbus/tcp", "modbus-rtu"} {
		_, ok := driver.Default.Resolve(tag)
		assert.True(t, ok, "tag %q should resolve", tag)
	}
}
