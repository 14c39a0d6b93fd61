package tlsmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// wildcardSANs is the fixed SAN set of the 100-year wildcard bootstrap
// certificate, carried over verbatim from
// original_source/packages/sweetmcp-pingora/src/tls/tls_manager.rs.
var wildcardSANs = []string{
	"*.cyrup.dev", "*.cyrup.ai", "*.cyrup.cloud", "*.cyrup.pro",
	"cyrup.dev", "cyrup.ai", "cyrup.cloud", "cyrup.pro",
	"sweetmcp.*",
}

// GenerateWildcardBootstrap writes a long-lived (100y) self-signed
// certificate covering wildcardSANs to dataDir with mode 0600, if one
// does not already exist. It is generated once, independent of the CA.
func GenerateWildcardBootstrap(dataDir string) (certPath string, err error) {
	certPath = filepath.Join(dataDir, "wildcard-bootstrap.pem")
	if _, statErr := os.Stat(certPath); statErr == nil {
		return certPath, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate bootstrap key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return "", err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "sugora wildcard bootstrap"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(100, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              wildcardSANs,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", fmt.Errorf("create bootstrap certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal bootstrap key: %w", err)
	}

	combined := append(pemEncodeCert(der), pemEncodeECKey(keyDER)...)
	if err := os.WriteFile(certPath, combined, 0o600); err != nil {
		return "", fmt.Errorf("write bootstrap certificate: %w", err)
	}
	return certPath, nil
}
