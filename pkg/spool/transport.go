package spool

import (
	"context"
	"fmt"
)

const (
	// TransportOption is the option key TransportMux routes on.
	TransportOption = "transport"

	// NatsTransportName selects the NATS transport.
	NatsTransportName = "nats"

	// AmqpTransportName selects the AMQP transport.
	AmqpTransportName = "amqp"
)

// Connection is a live network connection the pool can share between handles.
// Implementations must be safe for concurrent use.
type Connection interface {
	IsClosed() bool
	IsDraining() bool

	// Closed is closed once the connection has closed for good, gracefully or not.
	Closed() <-chan struct{}

	// Drain closes gracefully, letting in-flight operations finish.
	Drain() error
	Close() error
}

// Transport establishes Connections. Connect may block on network I/O and may fail.
type Transport interface {
	Connect(ctx context.Context, options ConnectionOptions) (Connection, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, options ConnectionOptions) (Connection, error)

// Connect calls f.
func (f TransportFunc) Connect(ctx context.Context, options ConnectionOptions) (Connection, error) {
	return f(ctx, options)
}

// TransportMux routes a connect to the Transport named by the "transport" option.
type TransportMux struct {
	transports       map[string]Transport
	defaultTransport string
}

// NewTransportMux creates a TransportMux that uses defaultTransport when no transport option is set.
func NewTransportMux(defaultTransport string) *TransportMux {
	return &TransportMux{
		transports:       make(map[string]Transport),
		defaultTransport: defaultTransport,
	}
}

// NewDefaultTransportMux registers the NATS (default) and AMQP transports.
func NewDefaultTransportMux(applicationName string) *TransportMux {
	mux := NewTransportMux(NatsTransportName)
	mux.Register(NatsTransportName, NewNatsTransport(applicationName))
	mux.Register(AmqpTransportName, NewAmqpTransport(applicationName))
	return mux
}

// Register adds or replaces a named Transport. Not safe to call concurrently with Connect.
func (tm *TransportMux) Register(name string, transport Transport) {
	tm.transports[name] = transport
}

// Connect implements Transport.
func (tm *TransportMux) Connect(ctx context.Context, options ConnectionOptions) (Connection, error) {

	name := options.StringOr(TransportOption, tm.defaultTransport)

	transport, ok := tm.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}

	return transport.Connect(ctx, options)
}
