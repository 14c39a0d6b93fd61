// Package tlsmgr implements CA generation and server certificate
// issuance with encrypted-at-rest private keys, plus the chain/hostname
// validation policy in validate.go and OCSP/CRL checking in revocation.go.
//
// The on-disk encryption format for CA- and key-related material is
// this package's own addition: consuming pre-issued certificates is
// common, but minting and safeguarding a local CA is not, so the
// envelope-encryption scheme in keystore.go has no direct precedent to
// adapt and is built from crypto/x509 and golang.org/x/crypto primitives
// directly.
package tlsmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Manager owns the CA key material and issues server certificates signed
// by it. IssueServerCert returns the PEM-encoded certificate and key; the
// caller builds the listener's TLS config from them.
type Manager struct {
	dataDir    string
	passphrase string

	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
}

// Init loads the CA from dataDir, generating one if absent. passphrase
// must satisfy ValidatePassphrase.
func Init(dataDir, passphrase string) (*Manager, error) {
	if err := ValidatePassphrase(passphrase); err != nil {
		return nil, err
	}
	m := &Manager{dataDir: dataDir, passphrase: passphrase}

	caCertPath := filepath.Join(dataDir, "ca-cert.pem")
	caKeyPath := filepath.Join(dataDir, "ca-key.enc")

	if _, err := os.Stat(caCertPath); err == nil {
		if err := m.loadCA(caCertPath, caKeyPath); err != nil {
			return nil, fmt.Errorf("load existing CA: %w", err)
		}
		return m, nil
	}

	if err := m.generateCA(caCertPath, caKeyPath); err != nil {
		return nil, fmt.Errorf("generate CA: %w", err)
	}
	return m, nil
}

func (m *Manager) generateCA(certPath, keyPath string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "sugora gateway CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}

	if err := os.WriteFile(certPath, pemEncodeCert(der), 0o644); err != nil {
		return fmt.Errorf("write CA certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal CA key: %w", err)
	}
	if err := WriteEncryptedKeyFile(keyPath, pemEncodeECKey(keyDER), m.passphrase); err != nil {
		return fmt.Errorf("write CA key: %w", err)
	}

	m.caCert = cert
	m.caKey = key
	return nil
}

func (m *Manager) loadCA(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("read CA certificate: %w", err)
	}
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}

	keyPEM, err := ReadEncryptedKeyFile(keyPath, m.passphrase)
	if err != nil {
		return fmt.Errorf("decrypt CA key: %w", err)
	}
	key, err := parseECKeyPEM(keyPEM)
	if err != nil {
		return fmt.Errorf("parse CA key: %w", err)
	}

	m.caCert = cert
	m.caKey = key
	return nil
}

// IssueServerCert issues a server certificate signed by the CA, with SAN
// entries localhost, 127.0.0.1, ::1, and hostname.
func (m *Manager) IssueServerCert(hostname string, validity time.Duration) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate server key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}

	dnsNames := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		dnsNames = append(dnsNames, hostname)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, m.caCert, &key.PublicKey, m.caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create server certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal server key: %w", err)
	}
	return pemEncodeCert(der), pemEncodeECKey(keyDER), nil
}

// CACertificate returns the CA's certificate, used as a trust anchor.
func (m *Manager) CACertificate() *x509.Certificate {
	return m.caCert
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}
