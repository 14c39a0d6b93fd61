// Package config loads the gateway's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-sourced setting the gateway needs at
// startup. It is loaded once and treated as immutable thereafter.
type Config struct {
	TCPBind     string
	UDSPath     string
	MetricsBind string

	DiscoveryToken     string
	KeyEncryptionPass  string
	LogLevel           string

	JWTSecret string
	JWTExpiry time.Duration

	Upstreams    []string
	InflightMax  int64
	BuildID      string
	HostName     string

	RateLimitWindow time.Duration
	RateLimitIdleTO time.Duration

	DNSServiceName string
	DataDir        string
}

// LoadFromEnv reads every SUGORA_/SWEETMCP_ environment variable and
// applies documented defaults for anything optional. Required variables
// that are missing produce an error; the caller treats that as a fatal
// startup failure.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		TCPBind:         getEnv("SWEETMCP_TCP_BIND", "0.0.0.0:8443"),
		UDSPath:         getEnv("SWEETMCP_UDS_PATH", "/tmp/sugora.sock"),
		MetricsBind:     getEnv("SWEETMCP_METRICS_BIND", "127.0.0.1:9090"),
		DiscoveryToken:  os.Getenv("SWEETMCP_DISCOVERY_TOKEN"),
		KeyEncryptionPass: os.Getenv("SWEETMCP_KEY_ENCRYPTION_PASSPHRASE"),
		LogLevel:        getEnv("SWEETMCP_LOG_LEVEL", "info"),
		JWTSecret:       os.Getenv("SUGORA_JWT_SECRET"),
		RateLimitWindow: 10 * time.Second,
		RateLimitIdleTO: 5 * time.Minute,
		InflightMax:     256,
		BuildID:         getEnv("SUGORA_BUILD_ID", "dev"),
		DataDir:         getEnv("SUGORA_DATA_DIR", defaultDataDir()),
		DNSServiceName:  os.Getenv("SUGORA_DNS_SERVICE_NAME"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SUGORA_JWT_SECRET must be set")
	}

	expirySecs := getEnvInt("SUGORA_JWT_EXPIRY_SECONDS", 3600)
	cfg.JWTExpiry = time.Duration(expirySecs) * time.Second

	if raw := os.Getenv("SUGORA_UPSTREAMS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				cfg.Upstreams = append(cfg.Upstreams, u)
			}
		}
	}

	if max := getEnvInt("SUGORA_INFLIGHT_MAX", 0); max > 0 {
		cfg.InflightMax = int64(max)
	}

	host, err := os.Hostname()
	if err == nil {
		cfg.HostName = host
	}

	return cfg, nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.sugora"
	}
	return "/var/lib/sugora"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
