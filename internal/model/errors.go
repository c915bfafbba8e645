package model

import (
	"errors"
	"fmt"
)

// ErrorKind is one entry of the error taxonomy (spec §7). These are kinds,
// not Go error types — ConnectorError.Kind carries one of these so callers
// can branch on category without type assertions.
type ErrorKind string

const (
	KindConfig         ErrorKind = "ConfigError"
	KindDriverConnect  ErrorKind = "DriverConnectError"
	KindDriverProtocol ErrorKind = "DriverProtocolError"
	KindMapping        ErrorKind = "MappingError"
	KindSinkUnavailable ErrorKind = "SinkUnavailable"
	KindSinkFatal       ErrorKind = "SinkFatal"
	KindInternal        ErrorKind = "InternalError"
)

// ConnectorError wraps a taxonomy kind with source and detail context.
type ConnectorError struct {
	SourceID string
	Kind     ErrorKind
	Detail   string
	Cause    error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.SourceID, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.SourceID, e.Detail)
}

func (e *ConnectorError) Unwrap() error { return e.Cause }

// NewConnectorError constructs a ConnectorError for the given kind.
func NewConnectorError(sourceID string, kind ErrorKind, detail string, cause error) *ConnectorError {
	return &ConnectorError{SourceID: sourceID, Kind: kind, Detail: detail, Cause: cause}
}

// Sentinel errors for conditions callers branch on directly.
var (
	ErrWriteNotConnected     = errors.New("write rejected: connector not in Connected state")
	ErrDriverNotImplemented  = errors.New("driver not implemented")
	ErrNoMappingRule         = errors.New("no mapping rule for source")
	ErrRuleExistsNotForced   = errors.New("mapping rule already exists and is hand-edited; pass force to overwrite")
	ErrInvalidTransition     = errors.New("invalid connector state transition")
	ErrFlushAlreadyRunning   = errors.New("recovery flush already running for this store")
)
