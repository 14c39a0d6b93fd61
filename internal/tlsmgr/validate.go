package tlsmgr

import (
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Warning is a non-fatal finding surfaced alongside a successful
// validation.
type Warning struct {
	Message string
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Warnings []Warning
}

// Validate runs the peer-certificate validation policy against
// hostname: expiry window, CA-false, key-usage, hostname match (DNS
// exact / single-level wildcard, or SAN-IP membership), and chain
// verification against the CA plus system roots. Revocation checking
// (OCSP/CRL) is performed separately by CheckRevocation since it
// requires network access and caching.
func Validate(cert *x509.Certificate, hostname string, ca *x509.Certificate, log *logrus.Logger) (ValidationResult, error) {
	var result ValidationResult
	now := time.Now()

	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return result, fmt.Errorf("certificate not valid at current time: notBefore=%s notAfter=%s", cert.NotBefore, cert.NotAfter)
	}
	if cert.NotAfter.Sub(now) < 30*24*time.Hour {
		result.Warnings = append(result.Warnings, Warning{Message: fmt.Sprintf("certificate expires soon: %s", cert.NotAfter)})
	}

	if cert.IsCA {
		return result, fmt.Errorf("certificate has BasicConstraints.CA = true, rejected as a leaf")
	}

	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return result, fmt.Errorf("certificate lacks digitalSignature key usage")
	}
	if cert.KeyUsage&x509.KeyUsageKeyEncipherment == 0 {
		result.Warnings = append(result.Warnings, Warning{Message: "certificate lacks keyEncipherment key usage"})
	}

	matched, viaCommonName := matchesHostname(cert, hostname)
	if !matched {
		return result, fmt.Errorf("hostname %q does not match certificate SANs or common name", hostname)
	}
	if viaCommonName {
		result.Warnings = append(result.Warnings, Warning{Message: fmt.Sprintf("hostname %q matched via Common Name fallback, not a SAN entry", hostname)})
	}

	roots := x509.NewCertPool()
	if ca != nil {
		roots.AddCert(ca)
	}
	if _, err := cert.Verify(x509.VerifyOptions{
		DNSName:     "", // hostname already checked above, including wildcard matching
		Roots:       roots,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		CurrentTime: now,
	}); err != nil {
		// Fall back to the system roots in addition to the CA pool.
		if _, sysErr := cert.Verify(x509.VerifyOptions{KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, CurrentTime: now}); sysErr != nil {
			return result, fmt.Errorf("chain verification failed: %w", err)
		}
	}

	return result, nil
}

// matchesHostname implements step 5: IP membership for IP literals, else
// exact or single-level leading-wildcard DNS match, falling back to
// Common Name. The second return reports whether the match came from
// that Common Name fallback, so the caller can surface a warning.
func matchesHostname(cert *x509.Certificate, hostname string) (matched, viaCommonName bool) {
	if ip := net.ParseIP(hostname); ip != nil {
		for _, sanIP := range cert.IPAddresses {
			if sanIP.Equal(ip) {
				return true, false
			}
		}
		return false, false
	}

	for _, san := range cert.DNSNames {
		if dnsMatches(san, hostname) {
			return true, false
		}
	}
	if strings.EqualFold(cert.Subject.CommonName, hostname) {
		return true, true
	}
	return false, false
}

// dnsMatches implements exact match or a single leading "*." wildcard
// matching exactly one label with no embedded dot.
func dnsMatches(pattern, hostname string) bool {
	if strings.EqualFold(pattern, hostname) {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	suffix := pattern[1:] // ".example.com"
	if !strings.HasSuffix(strings.ToLower(hostname), strings.ToLower(suffix)) {
		return false
	}
	label := hostname[:len(hostname)-len(suffix)]
	return label != "" && !strings.Contains(label, ".")
}
