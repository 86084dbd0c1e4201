package spool

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned when a pooled connection died before it could be handed out.
	// you can check for this error with errors.Is
	ErrConnectionClosed = errors.New("connection is already closed")

	// ErrConnectionPoolClosed is returned when a connection pool shutdown has been triggered
	ErrConnectionPoolClosed = errors.New("connection pool closed")

	// ErrCredentialNotFound is returned when a ConnectionService has no credential under the requested name.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrUnknownTransport is returned when the transport option names no registered Transport.
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrWrongConnectionType is returned by the typed accessors (NatsConn, AmqpConn) when the handle wraps a different transport.
	ErrWrongConnectionType = errors.New("handle wraps a different connection type")
)

// ConnectError is returned by Acquire when the Transport failed to establish a connection.
// No entry is installed, the pool is unchanged and the caller may retry.
type ConnectError struct {
	Key string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %q: %v", e.Key, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
