// Copyright 2024 The kubernetes.kubevirt authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tlsutil provides utilities for building TLS configurations.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrCertNotFound is returned when the certificate file does not exist.
	ErrCertNotFound = errors.New("certificate file not found")
	// ErrKeyNotFound is returned when the key file does not exist.
	ErrKeyNotFound = errors.New("key file not found")
	// ErrCANotFound is returned when the CA file does not exist.
	ErrCANotFound = errors.New("CA file not found")
	// ErrInvalidClientAuth is returned when the clientAuth value is not valid.
	ErrInvalidClientAuth = errors.New("invalid clientAuth value")
	// ErrLoadCertFailed is returned when loading the certificate fails.
	ErrLoadCertFailed = errors.New("failed to load certificate")
	// ErrLoadCAFailed is returned when loading the CA file fails.
	ErrLoadCAFailed = errors.New("failed to load CA file")
	// ErrParseCAFailed is returned when parsing the CA certificate fails.
	ErrParseCAFailed = errors.New("failed to parse CA certificate")
)

// Config holds the TLS configuration parameters.
type Config struct {
	// Enabled enables TLS for the server.
	Enabled bool `json:"enabled"`
	// ClientAuth specifies the client authentication policy.
	// Valid values: "none", "request", "require".
	ClientAuth string `json:"clientAuth"`
	// CertPath is the path to the server certificate file.
	CertPath string `json:"certPath"`
	// KeyPath is the path to the server private key file.
	KeyPath string `json:"keyPath"`
	// CAPath is the path to the CA certificate file for client verification.
	CAPath string `json:"caPath"`
}

// BuildTLSConfig builds a tls.Config from the provided configuration.
//
// Returns nil, nil when TLS is disabled.
// Returns an error if:
//   - CertPath does not exist
//   - KeyPath does not exist
//   - CAPath does not exist when ClientAuth != "none"
//   - ClientAuth value is not valid ("none", "request", "require")
//   - Loading the certificate or key fails
//   - Loading or parsing the CA certificate fails
func BuildTLSConfig(config *Config) (*tls.Config, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	if _, err := os.Stat(config.CertPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrCertNotFound, config.CertPath)
	}

	if _, err := os.Stat(config.KeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, config.KeyPath)
	}

	clientAuthType, err := parseClientAuth(config.ClientAuth)
	if err != nil {
		return nil, err
	}

	if clientAuthType != tls.NoClientCert {
		if _, err := os.Stat(config.CAPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCANotFound, config.CAPath)
		}
	}

	cert, err := tls.LoadX509KeyPair(config.CertPath, config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadCertFailed, err)
	}

	tlsConfig := &tls.Config{ //nolint:exhaustruct
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   clientAuthType,
	}

	if clientAuthType != tls.NoClientCert {
		caBytes, err := os.ReadFile(config.CAPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadCAFailed, err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caBytes) {
			return nil, ErrParseCAFailed
		}

		tlsConfig.ClientCAs = caPool
	}

	return tlsConfig, nil
}

// parseClientAuth maps a clientAuth string to tls.ClientAuthType.
func parseClientAuth(clientAuth string) (tls.ClientAuthType, error) {
	switch clientAuth {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return 0, fmt.Errorf("%w: %q (valid values: none, request, require)", ErrInvalidClientAuth, clientAuth)
	}
}
