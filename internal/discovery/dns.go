// Package discovery implements three best-effort peer producers
// (DNS-over-HTTPS, mDNS, HTTP peer-exchange), all converging on one
// PeerRegistry consumer.
//
// DNS discovery resolves a configured service name over DoH. No pack
// repo does DoH resolution directly, so this is built against
// github.com/miekg/dns (the de-facto Go DNS library) sending a DNS
// message over an HTTPS POST per RFC 8484 rather than a raw UDP query.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/cyrup-ai/sugora/internal/peers"
)

// DoHResolver periodically resolves a service name via DNS-over-HTTPS and
// upserts A/AAAA answers into a Registry.
type DoHResolver struct {
	Endpoint    string // e.g. "https://dns.google/dns-query"
	ServiceName string
	Port        string
	Client      *http.Client
	Log         *logrus.Logger
}

// Run resolves ServiceName every interval until ctx is cancelled. Failures
// are logged and never propagated.
func (d *DoHResolver) Run(ctx context.Context, registry *peers.Registry, interval time.Duration) {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.resolveOnce(ctx, client, registry)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.resolveOnce(ctx, client, registry)
		}
	}
}

func (d *DoHResolver) resolveOnce(ctx context.Context, client *http.Client, registry *peers.Registry) {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := d.query(ctx, client, qtype)
		if err != nil {
			if d.Log != nil {
				d.Log.WithError(err).WithField("service", d.ServiceName).Warn("doh resolution failed")
			}
			continue
		}
		for _, addr := range addrs {
			registry.AddPeer(fmt.Sprintf("%s:%s", addr, d.Port), registry.LocalBuildID())
		}
	}
}

func (d *DoHResolver) query(ctx context.Context, client *http.Client, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(d.ServiceName), qtype)
	msg.Id = dns.Id()

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack dns query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("build doh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read doh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh responded %d", resp.StatusCode)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpack dns reply: %w", err)
	}

	var out []string
	for _, rr := range reply.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			out = append(out, rec.A.String())
		case *dns.AAAA:
			out = append(out, rec.AAAA.String())
		}
	}
	return out, nil
}
