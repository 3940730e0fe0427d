/*
Copyright 2024 The kubernetes.kubevirt authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package certutil mints throwaway certificate authorities and certified
// keypairs for tests that exercise TLS connections to a cluster API.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Inspired from: https://github.com/madflojo/testcerts/blob/main/testcerts.go

// ------------------------------------------------------- CA ------------------------------------------------------- //

// CA is a certificate authority.
type CA struct {
	key      *ecdsa.PrivateKey
	pool     *x509.CertPool
	rootCert *x509.Certificate
}

// NewCA creates a new self-signed certificate authority.
func NewCA() (*CA, error) {
	caTemplate := &x509.Certificate{ //nolint:exhaustruct
		Subject: pkix.Name{ //nolint:exhaustruct
			Organization: []string{"Use in test only!"},
		},
		SerialNumber:          newSerial(),
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(1 * time.Hour),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}

	selfSignedRaw, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, caKey.Public(), caKey)
	if err != nil {
		return nil, fmt.Errorf("self-signing CA certificate: %w", err)
	}

	selfSigned, err := x509.ParseCertificate(selfSignedRaw)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(selfSigned)

	return &CA{
		key:      caKey,
		pool:     certPool,
		rootCert: selfSigned,
	}, nil
}

// Pool returns the CA's cert pool.
func (ca *CA) Pool() *x509.CertPool {
	return ca.pool
}

// Cert returns the CA's root certificate in PEM format.
func (ca *CA) Cert() []byte {
	return certToPEM(ca.rootCert)
}

// ------------------------------------------------ CertifiedKeypair ------------------------------------------------ //

// NewCertifiedKey creates a keypair certified by the CA. Each name is
// recorded as an IP SAN when it parses as an IP address, and as a DNS SAN
// otherwise, so certs minted for "127.0.0.1" verify against loopback dials.
func (ca *CA) NewCertifiedKey(names ...string) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	dnsNames, ipAddresses := splitSANs(names)

	template := &x509.Certificate{ //nolint:exhaustruct
		Subject: pkix.Name{ //nolint:exhaustruct
			Organization: []string{"Use in test only!"},
		},

		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
		SerialNumber: newSerial(),
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(2 * time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating certified key: %w", err)
	}

	signedRaw, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, key.Public(), ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("signing certificate: %w", err)
	}

	signed, err := x509.ParseCertificate(signedRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing signed certificate: %w", err)
	}

	return key, signed, nil
}

// NewCertifiedKeyPEM creates a certified keypair in PEM format.
func (ca *CA) NewCertifiedKeyPEM(names ...string) (key []byte, cert []byte, err error) {
	k, c, err := ca.NewCertifiedKey(names...)
	if err != nil {
		return nil, nil, err
	}

	keyPEM, err := privateKeyToPEM(k)
	if err != nil {
		return nil, nil, err
	}

	return keyPEM, certToPEM(c), nil
}

func splitSANs(names []string) ([]string, []net.IP) {
	var dnsNames []string

	var ipAddresses []net.IP

	for _, name := range names {
		if ip := net.ParseIP(name); ip != nil {
			ipAddresses = append(ipAddresses, ip)
		} else {
			dnsNames = append(dnsNames, name)
		}
	}

	return dnsNames, ipAddresses
}

func newSerial() *big.Int {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		// rand.Reader never fails on supported platforms.
		return big.NewInt(time.Now().UnixNano())
	}

	return serial
}

func privateKeyToPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	kb, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("could not marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: kb}), nil
}

func certToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
