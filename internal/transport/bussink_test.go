package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

func TestBusSinkDerivesDefaultSubject(t *testing.T) {
	fb := &fakeBus{}
	spec := model.SinkSpec{Name: "internal-bus", Variant: model.SinkBus, Namespace: "acme"}
	sink := NewBusSink(spec, fb)

	result := sink.Publish(context.Background(), sampleRecord())
	require.Equal(t, StatusOK, result.Status)

	events := fb.eventsOfType("RecordPublished")
	require.Len(t, events, 1)
	published := events[0].(*RecordPublished)
	assert.Equal(t, "acme.telemetry.boiler-1", published.Subject)
}

func TestBusSinkUsesOverrideEndpointAsSubject(t *testing.T) {
	fb := &fakeBus{}
	spec := model.SinkSpec{Name: "internal-bus", Variant: model.SinkBus, Endpoint: "custom.subject"}
	sink := NewBusSink(spec, fb)

	result := sink.Publish(context.Background(), sampleRecord())
	require.Equal(t, StatusOK, result.Status)

	events := fb.eventsOfType("RecordPublished")
	require.Len(t, events, 1)
	assert.Equal(t, "custom.subject", events[0].(*RecordPublished).Subject)
}

func TestBusSinkWithoutBusIsFatal(t *testing.T) {
	sink := NewBusSink(model.SinkSpec{Name: "internal-bus"}, nil)
	result := sink.Publish(context.Background(), sampleRecord())
	assert.Equal(t, StatusFatal, result.Status)
}
