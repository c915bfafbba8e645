package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

func sampleRecord() model.CanonicalRecord {
	return model.CanonicalRecord{
		ID:   "boiler-1",
		Type: "boiler",
		Measurements: []model.Measurement{
			{ID: "temp_c", Type: "Float", Value: 87.5, Unit: "C", Quality: "good"},
			{ID: "running", Type: "Bool", Value: true, Quality: "good"},
		},
		Metadata: model.RecordMetadata{
			Timestamp:  time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
			SourceID:   "boiler-1",
			SourceType: "modbus",
			Quality:    "good",
		},
	}
}

func TestEncodeDecodeVerboseRoundTrips(t *testing.T) {
	record := sampleRecord()
	data, err := Encode(record, model.FormatVerbose)
	require.NoError(t, err)

	got, err := Decode(data, model.FormatVerbose)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Type, got.Type)
	assert.Equal(t, record.Metadata.SourceID, got.Metadata.SourceID)
	assert.True(t, record.Metadata.Timestamp.Equal(got.Metadata.Timestamp))
	require.Len(t, got.Measurements, 2)
	assert.Equal(t, record.Measurements[0].ID, got.Measurements[0].ID)
}

func TestEncodeDecodeCompactRoundTrips(t *testing.T) {
	record := sampleRecord()
	data, err := Encode(record, model.FormatCompact)
	require.NoError(t, err)

	got, err := Decode(data, model.FormatCompact)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Type, got.Type)
	assert.Equal(t, record.Metadata.SourceID, got.Metadata.SourceID)
	assert.Equal(t, record.Metadata.SourceType, got.Metadata.SourceType)
	assert.True(t, record.Metadata.Timestamp.Equal(got.Metadata.Timestamp))
	require.Len(t, got.Measurements, 2)
	assert.Equal(t, "temp_c", got.Measurements[0].ID)
	assert.Equal(t, "C", got.Measurements[0].Unit)
	assert.Equal(t, 87.5, got.Measurements[0].Value)
	assert.Equal(t, true, got.Measurements[1].Value)
}

func TestCompactIsSmallerThanVerbose(t *testing.T) {
	record := sampleRecord()
	verbose, err := Encode(record, model.FormatVerbose)
	require.NoError(t, err)
	compact, err := Encode(record, model.FormatCompact)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(compact), len(verbose))
}
