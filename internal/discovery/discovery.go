package discovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyrup-ai/sugora/internal/peers"
)

// Config selects which producers to run. DNS discovery takes precedence;
// mDNS is used only if DNS is not configured.
type Config struct {
	DoHEndpoint  string
	ServiceName  string
	ServicePort  string
	MDNSPort     int
	BuildID      string
	ExchangeToken string
	PollInterval time.Duration
}

// Orchestrator wires the three producers into one Registry.
type Orchestrator struct {
	cfg      Config
	registry *peers.Registry
	log      *logrus.Logger
	mdns     *MDNSService
}

// New builds an Orchestrator over an existing Registry.
func New(cfg Config, registry *peers.Registry, log *logrus.Logger) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Orchestrator{cfg: cfg, registry: registry, log: log}
}

// Start launches every configured producer as a background goroutine. It
// returns immediately; producers run until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.cfg.DoHEndpoint != "" && o.cfg.ServiceName != "" {
		resolver := &DoHResolver{
			Endpoint:    o.cfg.DoHEndpoint,
			ServiceName: o.cfg.ServiceName,
			Port:        o.cfg.ServicePort,
			Log:         o.log,
		}
		go resolver.Run(ctx, o.registry, o.cfg.PollInterval)
	} else if o.cfg.ServiceName != "" {
		o.mdns = &MDNSService{
			ServiceName: o.cfg.ServiceName,
			Port:        o.cfg.MDNSPort,
			BuildID:     o.cfg.BuildID,
			Log:         o.log,
		}
		if err := o.mdns.Advertise(); err != nil && o.log != nil {
			o.log.WithError(err).Warn("mdns advertise failed")
		}
		go o.mdns.Run(ctx, o.registry, o.cfg.PollInterval)
	}

	exchanger := &Exchanger{Token: o.cfg.ExchangeToken, Log: o.log}
	go exchanger.Run(ctx, o.registry, o.cfg.PollInterval)
}

// Stop tears down any producer holding an OS resource (the mDNS
// responder); the DNS and exchange producers exit on context cancel.
func (o *Orchestrator) Stop() {
	if o.mdns != nil {
		if err := o.mdns.Shutdown(); err != nil && o.log != nil {
			o.log.WithError(err).Warn("mdns shutdown failed")
		}
	}
}
