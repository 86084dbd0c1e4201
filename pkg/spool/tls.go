package spool

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

// CreateTLSConfig creates a x509 TLS Config for use in TLS-based communication.
// localLocation holds both the client certificate and its key.
func CreateTLSConfig(pemLocation string, localLocation string) (*tls.Config, error) {
	return CreateTLSConfigFromFiles(pemLocation, localLocation, localLocation)
}

// CreateTLSConfigFromFiles creates a TLS Config from an optional CA bundle and an optional client key pair.
func CreateTLSConfigFromFiles(caLocation, certLocation, keyLocation string) (*tls.Config, error) {
	cfg := new(tls.Config)

	if caLocation != "" {
		ca, err := os.ReadFile(caLocation)
		if err != nil {
			return nil, err
		}

		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(ca) {
			return nil, errors.New("no certificates found in " + caLocation)
		}
	}

	if certLocation != "" {
		if keyLocation == "" {
			keyLocation = certLocation
		}

		cert, err := tls.LoadX509KeyPair(certLocation, keyLocation)
		if err != nil {
			return nil, err
		}

		cfg.Certificates = append(cfg.Certificates, cert)
	}

	return cfg, nil
}
