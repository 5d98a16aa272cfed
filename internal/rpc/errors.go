package rpc

import "fmt"

// ErrKind enumerates the error kinds spec.md §4.1 requires the transport
// to surface.
type ErrKind string

const (
	ErrConnectionClosed    ErrKind = "connection_closed"
	ErrDeserialisation     ErrKind = "deserialisation_failure"
	ErrUnknownTarget       ErrKind = "unknown_target"
	ErrUnknownMethod       ErrKind = "unknown_method"
	ErrRemoteRaised        ErrKind = "remote_raised"
)

// TransportError is the concrete error type for every transport-level
// failure; Kind lets callers switch on the taxonomy without string
// matching.
type TransportError struct {
	Kind ErrKind
	Msg  string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Msg)
}

func newError(kind ErrKind, format string, args ...interface{}) *TransportError {
	return &TransportError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// RemoteError wraps an exception raised server-side, re-raised client-side
// preserving kind and message, per spec.md §4.1.
type RemoteError struct {
	RemoteKind string
	RemoteMsg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote raised %s: %s", e.RemoteKind, e.RemoteMsg)
}
