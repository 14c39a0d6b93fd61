package tlsmgr

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
)

// RevocationStatus is the outcome of CheckRevocation.
type RevocationStatus int

const (
	StatusGood RevocationStatus = iota
	StatusRevoked
	StatusUnknown
)

// ocspCacheEntry and crlCacheEntry key OCSP lookups by issuer+serial and
// CRL lookups by distribution-point URL, each carrying next_update, which
// is authoritative when present. No cached_at is stored; the cache's own
// TTL bounds an entry's age.
type ocspCacheEntry struct {
	status     RevocationStatus
	nextUpdate time.Time
}

type crlCacheEntry struct {
	revokedSerials map[string]struct{}
	nextUpdate     time.Time
}

// RevocationChecker caches CRL and OCSP lookups, grounded on
// github.com/jellydator/ttlcache/v3 for TTL-bounded eviction instead of a
// hand-rolled sweep goroutine.
type RevocationChecker struct {
	ocspCache *ttlcache.Cache[string, ocspCacheEntry]
	crlCache  *ttlcache.Cache[string, crlCacheEntry]
	client    *http.Client
	log       *logrus.Logger
}

// NewRevocationChecker builds a checker with a 1h OCSP / 6h CRL default
// GC interval as cache-wide TTLs; an entry's own next_update, when
// present, is checked before falling back to the default.
func NewRevocationChecker(log *logrus.Logger) *RevocationChecker {
	r := &RevocationChecker{
		ocspCache: ttlcache.New[string, ocspCacheEntry](ttlcache.WithTTL[string, ocspCacheEntry](time.Hour)),
		crlCache:  ttlcache.New[string, crlCacheEntry](ttlcache.WithTTL[string, crlCacheEntry](6 * time.Hour)),
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
	go r.ocspCache.Start()
	go r.crlCache.Start()
	return r
}

// Stop halts the background GC goroutines.
func (r *RevocationChecker) Stop() {
	r.ocspCache.Stop()
	r.crlCache.Stop()
}

// CheckRevocation checks CRL first, then OCSP. A reachable authoritative
// "revoked" is fatal (returns StatusRevoked); unknown or fetch failures
// are a soft-pass (StatusUnknown, logged, never returned as an error).
func (r *RevocationChecker) CheckRevocation(cert, issuer *x509.Certificate) RevocationStatus {
	for _, dp := range cert.CRLDistributionPoints {
		status := r.checkCRL(cert, dp)
		if status == StatusRevoked {
			return StatusRevoked
		}
	}
	for _, aiaURL := range cert.OCSPServer {
		status := r.checkOCSP(cert, issuer, aiaURL)
		if status == StatusRevoked {
			return StatusRevoked
		}
		if status == StatusGood {
			return StatusGood
		}
	}
	return StatusUnknown
}

func (r *RevocationChecker) cacheKeyOCSP(cert *x509.Certificate) string {
	return fmt.Sprintf("%s:%s", cert.Issuer.String(), cert.SerialNumber.String())
}

func (r *RevocationChecker) checkOCSP(cert, issuer *x509.Certificate, serverURL string) RevocationStatus {
	key := r.cacheKeyOCSP(cert)
	if item := r.ocspCache.Get(key); item != nil {
		entry := item.Value()
		if entry.nextUpdate.IsZero() || time.Now().Before(entry.nextUpdate) {
			return entry.status
		}
	}

	if issuer == nil {
		return StatusUnknown
	}
	reqBytes, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		r.warn("ocsp request build failed", err)
		return StatusUnknown
	}

	resp, err := r.client.Post(serverURL, "application/ocsp-request", bytes.NewReader(reqBytes))
	if err != nil {
		r.warn("ocsp request failed", err)
		return StatusUnknown
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		r.warn("ocsp response read failed", err)
		return StatusUnknown
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		r.warn("ocsp response parse failed", err)
		return StatusUnknown
	}

	status := StatusUnknown
	switch parsed.Status {
	case ocsp.Good:
		status = StatusGood
	case ocsp.Revoked:
		status = StatusRevoked
	}

	r.ocspCache.Set(key, ocspCacheEntry{status: status, nextUpdate: parsed.NextUpdate}, ttlcache.DefaultTTL)
	return status
}

func (r *RevocationChecker) checkCRL(cert *x509.Certificate, distributionPoint string) RevocationStatus {
	var revoked map[string]struct{}
	if item := r.crlCache.Get(distributionPoint); item != nil {
		entry := item.Value()
		if entry.nextUpdate.IsZero() || time.Now().Before(entry.nextUpdate) {
			revoked = entry.revokedSerials
		}
	}

	if revoked == nil {
		resp, err := r.client.Get(distributionPoint)
		if err != nil {
			r.warn("crl fetch failed", err)
			return StatusUnknown
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
		if err != nil {
			r.warn("crl body read failed", err)
			return StatusUnknown
		}

		list, err := x509.ParseRevocationList(body)
		if err != nil {
			r.warn("crl parse failed", err)
			return StatusUnknown
		}

		revoked = make(map[string]struct{}, len(list.RevokedCertificateEntries))
		for _, entry := range list.RevokedCertificateEntries {
			revoked[entry.SerialNumber.String()] = struct{}{}
		}
		r.crlCache.Set(distributionPoint, crlCacheEntry{revokedSerials: revoked, nextUpdate: list.NextUpdate}, ttlcache.DefaultTTL)
	}

	if _, isRevoked := revoked[cert.SerialNumber.String()]; isRevoked {
		return StatusRevoked
	}
	return StatusGood
}

func (r *RevocationChecker) warn(msg string, err error) {
	if r.log != nil {
		r.log.WithError(err).Warn(msg)
	}
}

