package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// Encode serializes record per the sink's configured RecordFormat.
// FormatVerbose is the direct JSON object shape; FormatCompact is a
// short-keyed JSON object whose measurements are positional arrays, carrying
// the same fields at a fraction of
// the size, intended for bandwidth-constrained broker links. Both are
// losslessly reversible via Decode.
func Encode(record model.CanonicalRecord, format model.RecordFormat) ([]byte, error) {
	switch format {
	case model.FormatCompact:
		return encodeCompact(record)
	default:
		return json.Marshal(record)
	}
}

// Decode parses bytes produced by Encode back into a CanonicalRecord. format
// must match the format Encode was called with.
func Decode(data []byte, format model.RecordFormat) (model.CanonicalRecord, error) {
	switch format {
	case model.FormatCompact:
		return decodeCompact(data)
	default:
		var record model.CanonicalRecord
		err := json.Unmarshal(data, &record)
		return record, err
	}
}

// compactMeasurement mirrors Measurement as a 5-element array:
// [id, type, value, unit, quality].
type compactMeasurement [5]any

// compactEnvelope mirrors CanonicalRecord as a JSON object with short keys:
// i=id, t=type, m=measurements, ts=timestamp (RFC3339Nano), s=sourceId,
// st=sourceType, q=quality.
type compactEnvelope struct {
	ID           string               `json:"i"`
	Type         string               `json:"t"`
	Measurements []compactMeasurement `json:"m"`
	Timestamp    string               `json:"ts"`
	SourceID     string               `json:"s"`
	SourceType   string               `json:"st"`
	Quality      string               `json:"q,omitempty"`
}

func encodeCompact(record model.CanonicalRecord) ([]byte, error) {
	env := compactEnvelope{
		ID:         record.ID,
		Type:       record.Type,
		Timestamp:  record.Metadata.Timestamp.UTC().Format(time.RFC3339Nano),
		SourceID:   record.Metadata.SourceID,
		SourceType: record.Metadata.SourceType,
		Quality:    record.Metadata.Quality,
	}
	for _, m := range record.Measurements {
		env.Measurements = append(env.Measurements, compactMeasurement{m.ID, m.Type, m.Value, m.Unit, m.Quality})
	}
	return json.Marshal(env)
}

func decodeCompact(data []byte) (model.CanonicalRecord, error) {
	var env compactEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.CanonicalRecord{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return model.CanonicalRecord{}, fmt.Errorf("transport: decoding compact timestamp: %w", err)
	}

	record := model.CanonicalRecord{
		ID:   env.ID,
		Type: env.Type,
		Metadata: model.RecordMetadata{
			Timestamp:  ts,
			SourceID:   env.SourceID,
			SourceType: env.SourceType,
			Quality:    env.Quality,
		},
	}
	for _, m := range env.Measurements {
		record.Measurements = append(record.Measurements, compactMeasurementToModel(m))
	}
	return record, nil
}

func compactMeasurementToModel(m compactMeasurement) model.Measurement {
	return model.Measurement{
		ID:      asString(m[0]),
		Type:    asString(m[1]),
		Value:   m[2],
		Unit:    asString(m[3]),
		Quality: asString(m[4]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
