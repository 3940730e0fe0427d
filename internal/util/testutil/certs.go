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

package testutil

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/certutil"
)

// TestCA wraps certutil.CA for tests that stand up a TLS cluster API and
// connect to it with ca_cert/client_cert/client_key connection settings.
type TestCA struct {
	ca *certutil.CA
}

// NewTestCA creates a new test CA.
func NewTestCA() (*TestCA, error) {
	ca, err := certutil.NewCA()
	if err != nil {
		return nil, err
	}

	return &TestCA{ca: ca}, nil
}

// CertPool returns the CA's certificate pool.
func (t *TestCA) CertPool() *x509.CertPool {
	return t.ca.Pool()
}

// CACertPEM returns the CA certificate in PEM format.
func (t *TestCA) CACertPEM() []byte {
	return t.ca.Cert()
}

// GenerateServerCert generates a serving certificate signed by this CA.
// Names may be DNS names or IP addresses.
func (t *TestCA) GenerateServerCert(names ...string) (keyPEM, certPEM []byte, err error) {
	return t.ca.NewCertifiedKeyPEM(names...)
}

// GenerateClientCert generates a client certificate signed by this CA.
// Client certs carry no SANs; servers verify them by chain only.
func (t *TestCA) GenerateClientCert() (keyPEM, certPEM []byte, err error) {
	return t.ca.NewCertifiedKeyPEM()
}

// WriteCertAndKey writes a certificate and private key to PEM files. The key
// file is written with 0600 permissions.
func WriteCertAndKey(certPEM, keyPEM []byte, certPath, keyPath string) error {
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil { //nolint:gosec // certs are public material
		return fmt.Errorf("writing certificate: %w", err)
	}

	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	return nil
}
