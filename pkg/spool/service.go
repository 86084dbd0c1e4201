package spool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ConnectionService is the struct for containing all you need for pooled messaging connections:
// the pool, its transports and the named credentials callers acquire by.
type ConnectionService struct {
	Config         *Seasoning
	ConnectionPool *ConnectionPool
	Transport      Transport
	credentials    map[string]*CredentialConfig
	serviceLock    *sync.RWMutex
}

// NewConnectionService creates a service connecting through the default NATS/AMQP TransportMux.
func NewConnectionService(config *Seasoning, errorHandler func(error), logger logrus.FieldLogger) (*ConnectionService, error) {
	return NewConnectionServiceWithTransport(config, nil, errorHandler, logger)
}

// NewConnectionServiceWithTransport creates a service connecting through transport (default TransportMux when nil).
func NewConnectionServiceWithTransport(
	config *Seasoning,
	transport Transport,
	errorHandler func(error),
	logger logrus.FieldLogger) (*ConnectionService, error) {

	if config == nil {
		return nil, errors.New("connectionservice config can't be nil")
	}

	poolConfig := config.PoolConfig
	if poolConfig == nil {
		poolConfig = DefaultPoolConfig()
	}

	if transport == nil {
		transport = NewDefaultTransportMux(poolConfig.ApplicationName)
	}

	pool, err := NewConnectionPoolWithHandlers(poolConfig, transport, errorHandler, logger)
	if err != nil {
		return nil, err
	}

	cs := &ConnectionService{
		Config:         config,
		ConnectionPool: pool,
		Transport:      transport,
		credentials:    make(map[string]*CredentialConfig, len(config.Credentials)),
		serviceLock:    &sync.RWMutex{},
	}

	for name, credential := range config.Credentials {
		cs.credentials[name] = credential
	}

	return cs, nil
}

// UpdateCredential adds or replaces a named credential. Handles already out keep their connection;
// the next acquire sees the changed options and migrates to a new connection.
func (cs *ConnectionService) UpdateCredential(name string, credential *CredentialConfig) {
	cs.serviceLock.Lock()
	defer cs.serviceLock.Unlock()

	cs.credentials[name] = credential
}

// ResolveCredential returns the logical key and raw options for a named credential.
// The env file, when configured, is re-read every time so rotated secrets are picked up.
func (cs *ConnectionService) ResolveCredential(name string) (string, RawOptions, error) {

	cs.serviceLock.RLock()
	credential, ok := cs.credentials[name]
	cs.serviceLock.RUnlock()

	if !ok || credential == nil {
		return "", nil, fmt.Errorf("%w: %q", ErrCredentialNotFound, name)
	}

	raw := make(RawOptions)
	if credential.EnvFile != "" {
		envOptions, err := LoadCredentialEnvFile(credential.EnvFile)
		if err != nil {
			return "", nil, fmt.Errorf("credential %q: %w", name, err)
		}

		for key, value := range envOptions {
			raw[key] = value
		}
	}

	for key, value := range credential.Options {
		raw[key] = value
	}

	logicalKey := credential.LogicalKey
	if logicalKey == "" {
		logicalKey = name
	}

	return logicalKey, raw, nil
}

// GetConnection acquires the pooled connection for a named credential.
func (cs *ConnectionService) GetConnection(ctx context.Context, credentialName string) (*ConnectionHandle, error) {

	logicalKey, raw, err := cs.ResolveCredential(credentialName)
	if err != nil {
		return nil, err
	}

	return cs.ConnectionPool.Acquire(ctx, logicalKey, raw)
}

// GetConnectionWithOptions acquires a pooled connection for credentials supplied by the caller.
func (cs *ConnectionService) GetConnectionWithOptions(ctx context.Context, logicalKey string, raw RawOptions) (*ConnectionHandle, error) {
	return cs.ConnectionPool.Acquire(ctx, logicalKey, raw)
}

// GetJetStream acquires the pooled NATS connection for a named credential and opens JetStream on it.
func (cs *ConnectionService) GetJetStream(ctx context.Context, credentialName string) (*JetStreamHandle, error) {

	logicalKey, raw, err := cs.ResolveCredential(credentialName)
	if err != nil {
		return nil, err
	}

	return GetJetStream(ctx, cs.ConnectionPool, logicalKey, raw)
}

// Status reports on the pooled connection behind a named credential.
func (cs *ConnectionService) Status(credentialName string) (ConnectionStatus, error) {

	logicalKey, _, err := cs.ResolveCredential(credentialName)
	if err != nil {
		return ConnectionStatus{}, err
	}

	return cs.ConnectionPool.Status(logicalKey), nil
}

// Shutdown drains every pooled connection.
func (cs *ConnectionService) Shutdown() {
	cs.ConnectionPool.Shutdown()
}
