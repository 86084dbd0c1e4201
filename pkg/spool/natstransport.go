package spool

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultJetStreamAPIPrefix = "$JS.API"

// NatsConnection adapts *nats.Conn to Connection.
type NatsConnection struct {
	Conn   *nats.Conn
	closed chan struct{}
}

func (nc *NatsConnection) IsClosed() bool          { return nc.Conn.IsClosed() }
func (nc *NatsConnection) IsDraining() bool        { return nc.Conn.IsDraining() }
func (nc *NatsConnection) Closed() <-chan struct{} { return nc.closed }
func (nc *NatsConnection) Drain() error            { return nc.Conn.Drain() }

func (nc *NatsConnection) Close() error {
	nc.Conn.Close()
	return nil
}

// NatsTransport connects to NATS servers described by ConnectionOptions.
type NatsTransport struct {
	applicationName string
}

// NewNatsTransport creates a NatsTransport. applicationName is the default client name.
func NewNatsTransport(applicationName string) *NatsTransport {
	return &NatsTransport{applicationName: applicationName}
}

// Connect implements Transport.
func (nt *NatsTransport) Connect(ctx context.Context, options ConnectionOptions) (Connection, error) {

	natsOptions, err := BuildNatsOptions(nt.applicationName, options)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < natsOptions.Timeout {
			natsOptions.Timeout = remaining
		}
	}

	conn := &NatsConnection{closed: make(chan struct{})}
	once := &sync.Once{}
	natsOptions.ClosedCB = func(*nats.Conn) {
		once.Do(func() { close(conn.closed) })
	}

	conn.Conn, err = natsOptions.Connect()
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// BuildNatsOptions maps connection option keys onto nats.Options.
//
//	servers               comma separated URLs (default nats://127.0.0.1:4222)
//	name                  client name (default applicationName)
//	user, pass, token     plain authentication
//	credsFile             chained JWT + seed file
//	nkeySeedFile          nkey seed file
//	tlsCaFile, tlsCertFile, tlsKeyFile
//	timeout, pingInterval, reconnectTimeWait, drainTimeout   milliseconds
//	maxReconnectAttempts, noEcho
func BuildNatsOptions(applicationName string, options ConnectionOptions) (nats.Options, error) {

	natsOptions := nats.GetDefaultOptions()

	natsOptions.Servers = options.Strings("servers")
	if len(natsOptions.Servers) == 0 {
		natsOptions.Url = nats.DefaultURL
	}

	natsOptions.Name = options.StringOr("name", applicationName)
	natsOptions.User = options.String("user")
	natsOptions.Password = options.String("pass")
	natsOptions.Token = options.String("token")
	natsOptions.NoEcho = options.Bool("noEcho")

	if timeout, ok := options.Milliseconds("timeout"); ok {
		natsOptions.Timeout = timeout
	}
	if pingInterval, ok := options.Milliseconds("pingInterval"); ok {
		natsOptions.PingInterval = pingInterval
	}
	if reconnectWait, ok := options.Milliseconds("reconnectTimeWait"); ok {
		natsOptions.ReconnectWait = reconnectWait
	}
	if drainTimeout, ok := options.Milliseconds("drainTimeout"); ok {
		natsOptions.DrainTimeout = drainTimeout
	}
	if maxReconnect, ok := options.Int("maxReconnectAttempts"); ok {
		natsOptions.MaxReconnect = maxReconnect
	}

	var extra []nats.Option

	if credsFile := options.String("credsFile"); credsFile != "" {
		extra = append(extra, nats.UserCredentials(credsFile))
	}

	if seedFile := options.String("nkeySeedFile"); seedFile != "" {
		nkeyOption, err := nats.NkeyOptionFromSeed(seedFile)
		if err != nil {
			return natsOptions, err
		}
		extra = append(extra, nkeyOption)
	}

	for _, apply := range extra {
		if err := apply(&natsOptions); err != nil {
			return natsOptions, err
		}
	}

	caFile := options.String("tlsCaFile")
	certFile := options.String("tlsCertFile")
	if caFile != "" || certFile != "" {
		tlsConfig, err := CreateTLSConfigFromFiles(caFile, certFile, options.String("tlsKeyFile"))
		if err != nil {
			return natsOptions, err
		}

		natsOptions.Secure = true
		natsOptions.TLSConfig = tlsConfig
	}

	return natsOptions, nil
}

// NatsConn returns the *nats.Conn behind a handle.
func NatsConn(handle *ConnectionHandle) (*nats.Conn, error) {

	conn, ok := handle.Connection().(*NatsConnection)
	if !ok {
		return nil, ErrWrongConnectionType
	}

	return conn.Conn, nil
}

// JetStreamHandle is a pooled NATS connection with a JetStream context bound to it.
// Releasing it releases the underlying connection handle.
type JetStreamHandle struct {
	*ConnectionHandle
	JetStream nats.JetStreamContext
}

// GetJetStream acquires the pooled NATS connection for logicalKey and opens JetStream on it.
// jsApiPrefix (default $JS.API), jsDomain and jsTimeout (ms) are read from raw.
func GetJetStream(ctx context.Context, pool *ConnectionPool, logicalKey string, raw RawOptions) (*JetStreamHandle, error) {

	handle, err := pool.Acquire(ctx, logicalKey, raw)
	if err != nil {
		return nil, err
	}

	conn, err := NatsConn(handle)
	if err != nil {
		handle.Release()
		return nil, err
	}

	options, _ := NormalizeOptions(raw)

	var jsOptions []nats.JSOpt
	if domain := options.String("jsDomain"); domain != "" {
		jsOptions = append(jsOptions, nats.Domain(domain))
	} else {
		jsOptions = append(jsOptions, nats.APIPrefix(options.StringOr("jsApiPrefix", defaultJetStreamAPIPrefix)))
	}
	if timeout, ok := options.Milliseconds("jsTimeout"); ok {
		jsOptions = append(jsOptions, nats.MaxWait(timeout))
	}

	js, err := conn.JetStream(jsOptions...)
	if err != nil {
		handle.Release()
		return nil, err
	}

	return &JetStreamHandle{ConnectionHandle: handle, JetStream: js}, nil
}
