package model

import "time"

// TransformKind is one of the exhaustive transform variants a FieldMapping
// may apply (spec §4.4).
type TransformKind string

const (
	TransformDirect    TransformKind = "direct"
	TransformNumber    TransformKind = "number"
	TransformString    TransformKind = "string"
	TransformBoolean   TransformKind = "boolean"
	TransformScale     TransformKind = "scale"
	TransformRound     TransformKind = "round"
	TransformUppercase TransformKind = "uppercase"
	TransformLowercase TransformKind = "lowercase"
	TransformMap       TransformKind = "map"
	TransformFormula    TransformKind = "formula"
)

// Transform is the transform+params pair attached to a FieldMapping.
type Transform struct {
	Kind TransformKind `json:"kind" mapstructure:"kind"`

	// scale
	Factor float64 `json:"factor,omitempty" mapstructure:"factor"`
	Offset float64 `json:"offset,omitempty" mapstructure:"offset"`

	// round
	Decimals int `json:"decimals,omitempty" mapstructure:"decimals"`

	// map
	Table map[string]any `json:"table,omitempty" mapstructure:"table"`

	// formula: single-variable arithmetic expression; the variable name is
	// whatever appears in Expr (conventionally "x").
	Expr string `json:"expr,omitempty" mapstructure:"expr"`
}

// FieldMapping is one {sourceField, targetField, transform} entry of a
// MappingRule's ordered mapping list.
type FieldMapping struct {
	SourceField string    `json:"sourceField" mapstructure:"sourceField"`
	TargetField string    `json:"targetField" mapstructure:"targetField"`
	Transform   Transform `json:"transform" mapstructure:"transform"`
}

// MappingTarget describes the entity shape a MappingRule produces.
type MappingTarget struct {
	Type       string `json:"type" mapstructure:"type"` // "ngsi-ld" | "canonical"
	EntityType string `json:"entityType" mapstructure:"entityType"`
}

// MappingRule is the persistent, per-source transformation recipe C4 applies
// to every RawSample from a given source.
type MappingRule struct {
	SourceID        string         `json:"sourceId" mapstructure:"sourceId"`
	Target          MappingTarget  `json:"target" mapstructure:"target"`
	Mappings        []FieldMapping `json:"mappings" mapstructure:"mappings"`
	IncludeMetadata bool           `json:"includeMetadata" mapstructure:"includeMetadata"`
	AutoGenerated   bool           `json:"autoGenerated" mapstructure:"autoGenerated"`
	GeneratedAt     time.Time      `json:"generatedAt,omitempty" mapstructure:"generatedAt"`
}
