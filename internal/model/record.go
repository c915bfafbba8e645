package model

import "time"

// Measurement is one {id, type, value, unit?, quality?} entry of a
// CanonicalRecord.
type Measurement struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Unit    string `json:"unit,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// RecordMetadata is the {timestamp, sourceId, sourceType, quality, ...} tree
// attached to every CanonicalRecord. Extra rule-added fields live in Extra.
type RecordMetadata struct {
	Timestamp  time.Time      `json:"timestamp"`
	SourceID   string         `json:"sourceId"`
	SourceType string         `json:"sourceType"`
	Quality    string         `json:"quality,omitempty"`
	Extra      map[string]any `json:"-"`
}

// CanonicalRecord is the uniform device/measurement record produced by the
// Mapping Engine (C4). Measurements may be empty — a degenerate record is
// still valid as long as the timestamp is set.
type CanonicalRecord struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Measurements []Measurement  `json:"measurements"`
	Metadata     RecordMetadata `json:"metadata"`
}

// BufferRole tags which of the Data Buffer's two blurred responsibilities a
// BufferedEntry serves: a short-term retrieval cache, or a failure-recovery
// queue entry awaiting a sink's recovery flush. Only Recovery entries are
// candidates for flush-then-delete.
type BufferRole string

const (
	RoleCache    BufferRole = "cache"
	RoleRecovery BufferRole = "recovery"
)

// BufferedEntry is a CanonicalRecord plus the envelope the Data Buffer (C5)
// needs to track recovery-flush candidates.
type BufferedEntry struct {
	ID              string
	Record          CanonicalRecord
	Role            BufferRole
	IntendedSubject string // the sink name this entry is pending republish to
	BufferedAt      time.Time
	LastError       string
}
