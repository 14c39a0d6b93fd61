// Command sugora-gateway runs the edge gateway: protocol normalization,
// peer discovery, load-aware forwarding and mTLS termination wired into
// one process: config-load -> log-init -> component-wire -> signal-driven
// shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cyrup-ai/sugora/internal/auth"
	"github.com/cyrup-ai/sugora/internal/bridge"
	"github.com/cyrup-ai/sugora/internal/config"
	"github.com/cyrup-ai/sugora/internal/discovery"
	"github.com/cyrup-ai/sugora/internal/edge"
	"github.com/cyrup-ai/sugora/internal/load"
	"github.com/cyrup-ai/sugora/internal/log"
	"github.com/cyrup-ai/sugora/internal/metrics"
	"github.com/cyrup-ai/sugora/internal/peers"
	"github.com/cyrup-ai/sugora/internal/picker"
	"github.com/cyrup-ai/sugora/internal/ratelimit"
	"github.com/cyrup-ai/sugora/internal/shutdown"
	"github.com/cyrup-ai/sugora/internal/tlsmgr"
)

func main() {
	if err := NewGatewayCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sugora-gateway:", err)
		os.Exit(1)
	}
}

// NewGatewayCommand builds the root CLI: a root command whose default
// action is "serve" plus operational subcommands.
func NewGatewayCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sugora-gateway",
		Short: "Sugora multi-protocol edge gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.AddCommand(newGenCertCommand())
	return root
}

// newGenCertCommand issues a standalone wildcard bootstrap certificate
// without starting the gateway, for operators provisioning a data
// directory ahead of first boot.
func newGenCertCommand() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Generate the wildcard bootstrap TLS certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := tlsmgr.GenerateWildcardBootstrap(dataDir)
			if err != nil {
				return fmt.Errorf("generate bootstrap cert: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory to write the bootstrap certificate into")
	_ = cmd.MarkFlagRequired("data-dir")
	return cmd
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.InitLogs()
	logger.WithFields(logrus.Fields{
		"tcp_bind":     cfg.TCPBind,
		"uds_path":     cfg.UDSPath,
		"metrics_bind": cfg.MetricsBind,
		"build_id":     cfg.BuildID,
	}).Info("starting sugora-gateway")

	backends := make([]picker.Backend, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		backends = append(backends, picker.Backend{Address: u, Capacity: 1})
	}

	registry := peers.New(cfg.BuildID)
	counter := load.New()
	verifier := auth.New(cfg.JWTSecret, cfg.JWTExpiry)
	limiter := ratelimit.New(ratelimit.Options{
		BucketCapacity:     100,
		BucketRefillPerSec: 50,
		WindowLimit:        1000,
		WindowDuration:     cfg.RateLimitWindow,
		IdleTimeout:        cfg.RateLimitIdleTO,
	})
	defer limiter.Stop()

	pick := picker.New(backends)
	sink := metrics.New()
	peersHTTP := peers.NewHandler(registry, cfg.DiscoveryToken)

	dispatcher := bridge.New(bridge.DefaultHandler{}, 64, logger, nil)
	defer dispatcher.Close()

	tlsManager, err := tlsmgr.Init(cfg.DataDir, cfg.KeyEncryptionPass)
	if err != nil {
		return fmt.Errorf("init tls manager: %w", err)
	}
	certPEM, keyPEM, err := tlsManager.IssueServerCert(cfg.HostName, 90*24*time.Hour)
	if err != nil {
		return fmt.Errorf("issue server cert: %w", err)
	}
	tlsCert, err := tlsKeyPairFromPEM(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("load server cert: %w", err)
	}

	revocation := tlsmgr.NewRevocationChecker(logger)
	defer revocation.Stop()

	discoveryCtx, cancelDiscovery := context.WithCancel(context.Background())
	defer cancelDiscovery()
	orchestrator := discovery.New(discovery.Config{
		ServiceName:   cfg.DNSServiceName,
		BuildID:       cfg.BuildID,
		ExchangeToken: cfg.DiscoveryToken,
	}, registry, logger)
	orchestrator.Start(discoveryCtx)
	defer orchestrator.Stop()

	pipeline := &edge.Pipeline{
		Counter:     counter,
		Verifier:    verifier,
		Limiter:     limiter,
		Registry:    registry,
		Picker:      pick,
		Bridge:      dispatcher,
		Metrics:     sink,
		PeersHTTP:   peersHTTP,
		Forwarder:   &edge.ReverseProxyForwarder{Log: logger},
		InflightMax: cfg.InflightMax,
		Log:         logger,
	}

	router := edge.NewRouter(pipeline, logger, nil)
	tlsConfig := serverTLSConfig(tlsCert)
	tcpServer := edge.NewTLSServer(router, cfg.TCPBind, tlsConfig, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", sink.Handler())
	metricsServer := edge.NewHTTPServer(metricsMux, cfg.MetricsBind)

	udsListener, err := edge.NewUnixListener(cfg.UDSPath)
	if err != nil {
		return fmt.Errorf("bind unix socket %s: %w", cfg.UDSPath, err)
	}
	udsServer := &http.Server{Handler: router}

	serverErrs := make(chan error, 3)
	go func() {
		if err := tcpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			serverErrs <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		if err := udsServer.Serve(udsListener); err != nil && err != http.ErrServerClosed {
			serverErrs <- fmt.Errorf("unix server: %w", err)
		}
	}()

	coordinator := shutdown.NewShutdownManager(logger).
		SetServiceName("sugora-gateway").
		WithDataDir(cfg.DataDir).
		WithCounter(counter)

	coordinator.Register("tcp-server", shutdown.PriorityHighest, shutdown.TimeoutStandard, func(ctx context.Context) error {
		return tcpServer.Shutdown(ctx)
	})
	coordinator.Register("unix-server", shutdown.PriorityHigh, shutdown.TimeoutStandard, func(ctx context.Context) error {
		return udsServer.Shutdown(ctx)
	})
	coordinator.Register("metrics-server", shutdown.PriorityNormal, shutdown.TimeoutQuick, func(ctx context.Context) error {
		return metricsServer.Shutdown(ctx)
	})
	coordinator.Register("discovery", shutdown.PriorityLow, shutdown.TimeoutQuick, func(ctx context.Context) error {
		cancelDiscovery()
		orchestrator.Stop()
		return nil
	})

	select {
	case err := <-serverErrs:
		logger.WithError(err).Error("server failed, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown.TimeoutCompletion)
		defer cancel()
		_ = coordinator.Shutdown(shutdownCtx)
		return err
	case err := <-waitForSignalErr(coordinator):
		return err
	}
}

func waitForSignalErr(coordinator *shutdown.Manager) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- coordinator.HandleSignals(context.Background(), shutdown.TimeoutCompletion)
	}()
	return out
}
