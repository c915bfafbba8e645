package mqttdrv

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
)

func TestDriverValidateRequiresTopic(t *testing.T) {
	d := New()
	err := d.Validate(map[string]any{"brokerUrl": "tcp://localhost:1883"})
	assert.Error(t, err)
}

func TestDriverValidateAcceptsTopic(t *testing.T) {
	d := New()
	err := d.Validate(map[string]any{"topic": "plant/line1/+"})
	assert.NoError(t, err)
}

func TestDriverStartSubscribesAndForwardsSamples(t *testing.T) {
	fc := newFakeClient()
	d := New().WithClientFactory(func(cfg Config) mqtt.Client { return fc })

	require.NoError(t, d.Initialize(map[string]any{
		"brokerUrl": "tcp://localhost:1883",
		"topic":     "plant/line1/temp",
	}))

	events := make(chan driver.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx, events))
	defer d.Stop(context.Background())

	first := <-events
	assert.Equal(t, driver.EventConnected, first.Kind)

	fc.deliver("plant/line1/temp", []byte(`{"temp": -42, "unit": "C"}`))

	select {
	case ev := <-events:
		require.Equal(t, driver.EventSample, ev.Kind)
		temp, ok := ev.Sample.Get("temp")
		require.True(t, ok)
		v, ok := temp.AsInt()
		require.True(t, ok)
		assert.Equal(t, int64(-42), v)

		topic, ok := ev.Sample.Get("topic")
		require.True(t, ok)
		s, _ := topic.AsString()
		assert.Equal(t, "plant/line1/temp", s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample event")
	}
}

func TestDriverStartHandlesNonJSONPayload(t *testing.T) {
	fc := newFakeClient()
	d := New().WithClientFactory(func(cfg Config) mqtt.Client { return fc })

	require.NoError(t, d.Initialize(map[string]any{"topic": "raw/line1"}))

	events := make(chan driver.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx, events))
	defer d.Stop(context.Background())

	<-events // connected

	fc.deliver("raw/line1", []byte("not-json"))

	select {
	case ev := <-events:
		require.Equal(t, driver.EventSample, ev.Kind)
		payload, ok := ev.Sample.Get("payload")
		require.True(t, ok)
		s, _ := payload.AsString()
		assert.Equal(t, "not-json", s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample event")
	}
}

func TestDriverStopDisconnects(t *testing.T) {
	fc := newFakeClient()
	d := New().WithClientFactory(func(cfg Config) mqtt.Client { return fc })

	require.NoError(t, d.Initialize(map[string]any{"topic": "plant/x"}))

	events := make(chan driver.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx, events))
	<-events

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, fc.connected)
	assert.False(t, d.Status().Connected)
}

func TestDriverDiscoverCollectsDistinctTopicsExcludingSys(t *testing.T) {
	fc := newFakeClient()
	d := New().WithClientFactory(func(cfg Config) mqtt.Client { return fc })
	require.NoError(t, d.Initialize(map[string]any{
		"topic":           "unused",
		"discoveryWindow": "20ms",
	}))

	done := make(chan []string, 1)
	go func() {
		items, err := d.Discover(context.Background())
		require.NoError(t, err)
		topics := make([]string, 0, len(items))
		for _, it := range items {
			topics = append(topics, it.Topic)
		}
		done <- topics
	}()

	// give Discover a moment to subscribe before delivering
	time.Sleep(5 * time.Millisecond)
	fc.deliver("plant/line1/temp", []byte(`{}`))
	fc.deliver("plant/line2/press", []byte(`{}`))
	fc.deliver("$SYS/broker/uptime", []byte(`{}`))

	select {
	case topics := <-done:
		assert.Contains(t, topics, "plant/line1/temp")
		assert.Contains(t, topics, "plant/line2/press")
		assert.NotContains(t, topics, "$SYS/broker/uptime")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery to finish")
	}
}

func TestMQTTRegisteredInDefaultRegistry(t *testing.T) {
	_, ok := driver.Default.Resolve("mqtt")
	assert.True(t, ok)
}
