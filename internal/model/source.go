// Package model holds the declarative and runtime data types shared across
// the acquisition engine's components: SourceSpec/SinkSpec (declarative
// config), ConnectorStatus (C2's read-only status snapshot),
// CanonicalRecord/MappingRule (the data-plane types C4 operates on), and the
// error taxonomy kinds of the error handling design.
package model

import (
	"reflect"
	"time"
)

// DriverType is the canonical tag selecting one driver variant. Aliases
// (e.g. "opc-ua", "modbus/tcp") fold to one of these in internal/driver's
// alias table before a SourceSpec ever reaches a supervisor.
type DriverType string

const (
	DriverOPCUA     DriverType = "opcua"
	DriverModbus    DriverType = "modbus"
	DriverMQTT      DriverType = "mqtt"
	DriverHTTP      DriverType = "http"
	DriverS7        DriverType = "s7"
	DriverFins      DriverType = "fins"
	DriverMelsec    DriverType = "melsec"
	DriverCIP       DriverType = "cip"
	DriverBACnet    DriverType = "bacnet"
	DriverProfinet  DriverType = "profinet"
	DriverEtherCAT  DriverType = "ethercat"
	DriverSerial    DriverType = "serial"
	DriverAAS       DriverType = "aas"
)

// RetryPolicy governs a supervisor's exponential-backoff reconnection.
// Delay on attempt n is InitialDelay * 2^(n-1).
type RetryPolicy struct {
	MaxAttempts  int           `json:"maxAttempts" mapstructure:"maxAttempts"`
	InitialDelay time.Duration `json:"initialDelay" mapstructure:"initialDelay"`
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
}

// BackoffDelay returns the backoff delay before reconnect attempt n (1-based).
func (p RetryPolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := int64(1) << uint(attempt-1)
	return p.InitialDelay * time.Duration(multiplier)
}

// DefaultRetryPolicy mirrors the spec's default backoff shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, Enabled: true}
}

// SourceSpec is the declarative description of one connector to run.
type SourceSpec struct {
	ID          string         `json:"id" mapstructure:"id"`
	Type        DriverType     `json:"type" mapstructure:"type"`
	Enabled     bool           `json:"enabled" mapstructure:"enabled"`
	Config      map[string]any `json:"config" mapstructure:"config"`
	AutoMapping bool           `json:"autoMapping" mapstructure:"autoMapping"`
	RetryPolicy RetryPolicy    `json:"retryPolicy" mapstructure:"retryPolicy"`
}

// Equal reports whether two SourceSpecs are value-equal for reconciliation's
// toUpdate detection (spec(s) != spec'(s)).
func (s SourceSpec) Equal(other SourceSpec) bool {
	if s.ID != other.ID || s.Type != other.Type || s.Enabled != other.Enabled || s.AutoMapping != other.AutoMapping {
		return false
	}
	if s.RetryPolicy != other.RetryPolicy {
		return false
	}
	if len(s.Config) != len(other.Config) {
		return false
	}
	for k, v := range s.Config {
		ov, ok := other.Config[k]
		if !ok || !configValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func configValuesEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !configValuesEqual(v, bv) {
				return false
			}
		}
		return true
	}
	// Config values decoded from YAML/JSON can carry slice-typed fields
	// (Modbus "points"/"scanRanges", OPC UA "subscribedNodes"); []any is not
	// comparable, so a bare == here would panic on reconciliation.
	return reflect.DeepEqual(a, b)
}

// SinkVariant is the transport variant tag for a SinkSpec.
type SinkVariant string

const (
	SinkBus      SinkVariant = "bus"
	SinkBroker   SinkVariant = "broker"
	SinkHTTPPush SinkVariant = "http-push"
)

// RecordFormat is the wire format a sink serializes CanonicalRecords as.
type RecordFormat string

const (
	FormatVerbose RecordFormat = "verbose"
	FormatCompact RecordFormat = "compact"
)

// SinkSpec is the declarative description of one transport endpoint.
type SinkSpec struct {
	Name          string            `json:"name" mapstructure:"name"`
	Variant       SinkVariant       `json:"variant" mapstructure:"variant"`
	Endpoint      string            `json:"endpoint" mapstructure:"endpoint"`
	Enabled       bool              `json:"enabled" mapstructure:"enabled"`
	Format        RecordFormat      `json:"format" mapstructure:"format"`
	Credentials   map[string]string `json:"credentials,omitempty" mapstructure:"credentials"`
	BatchSize     int               `json:"batchSize,omitempty" mapstructure:"batchSize"`
	FlushInterval time.Duration     `json:"flushInterval,omitempty" mapstructure:"flushInterval"`
	QoS           int               `json:"qos,omitempty" mapstructure:"qos"`
	Retain        bool              `json:"retain,omitempty" mapstructure:"retain"`
	Namespace     string            `json:"namespace,omitempty" mapstructure:"namespace"`
}
