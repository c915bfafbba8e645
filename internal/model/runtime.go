package model

import "time"

// ConnectorState is a state in the C2 lifecycle state machine.
type ConnectorState string

const (
	StateUnconfigured ConnectorState = "Unconfigured"
	StateInitialized  ConnectorState = "Initialized"
	StateConnecting   ConnectorState = "Connecting"
	StateConnected    ConnectorState = "Connected"
	StateDisconnected ConnectorState = "Disconnected"
	StateReconnecting ConnectorState = "Reconnecting"
	StateStopped      ConnectorState = "Stopped"
	StateFailed       ConnectorState = "Failed"
)

// ConnectorCounters tracks cumulative per-connector statistics.
type ConnectorCounters struct {
	SamplesReceived   int64
	Errors            int64
	SuccessfulConnect int64
	ReconnectAttempts int64
}

// ConnectorStatus is the read-only snapshot C7 and the control plane consult.
type ConnectorStatus struct {
	SourceID     string
	State        ConnectorState
	LastActivity time.Time
	Counters     ConnectorCounters
	LastError    string
}

// DiscoveryItem is one entry of a discovery catalog, shaped per driver.
// Only the fields relevant to a given driver are populated.
type DiscoveryItem struct {
	NodeID      string `json:"nodeId,omitempty"`
	BrowseName  string `json:"browseName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	NodeClass   string `json:"nodeClass,omitempty"`
	DataType    string `json:"dataType,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Address     int    `json:"address,omitempty"`
	RegisterSet string `json:"registerSet,omitempty"`
}

// DiscoveryCatalog is the cached result of one discovery sweep (C3).
type DiscoveryCatalog struct {
	SourceID    string
	Items       []DiscoveryItem
	CollectedAt time.Time
	Error       string
}
