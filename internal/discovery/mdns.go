package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"

	"github.com/cyrup-ai/sugora/internal/peers"
)

// MDNSService advertises the local gateway and periodically queries for
// peers on link-local multicast. Used only when DNS discovery is not
// configured.
type MDNSService struct {
	ServiceName string
	Port        int
	BuildID     string
	Log         *logrus.Logger

	server *mdns.Server
}

// Advertise publishes this gateway's service record until Shutdown is
// called. Failures are returned to the caller; the Orchestrator logs them
// and carries on.
func (m *MDNSService) Advertise() error {
	info := []string{m.BuildID}
	service, err := mdns.NewMDNSService(m.ServiceName, "_sugora._tcp", "", "", m.Port, nil, info)
	if err != nil {
		return fmt.Errorf("build mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}
	m.server = server
	return nil
}

// Shutdown stops advertising.
func (m *MDNSService) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown()
}

// Run queries for peers every interval until ctx is cancelled, upserting
// each responder as a peer whose build ID is read from its TXT record.
func (m *MDNSService) Run(ctx context.Context, registry *peers.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.queryOnce(registry)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.queryOnce(registry)
		}
	}
}

func (m *MDNSService) queryOnce(registry *peers.Registry) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			buildID := m.BuildID
			if len(entry.InfoFields) > 0 {
				buildID = entry.InfoFields[0]
			}
			addr := fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)
			registry.AddPeer(addr, buildID)
		}
	}()

	err := mdns.Lookup("_sugora._tcp", entries)
	close(entries)
	<-done
	if err != nil && m.Log != nil {
		m.Log.WithError(err).Warn("mdns lookup failed")
	}
}
