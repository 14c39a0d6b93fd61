package edge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"
)

// tlsPeerContextKey carries the verified client certificate's common
// name through a request's context.
type tlsPeerContextKey string

const TLSPeerCommonNameKey tlsPeerContextKey = "edge-tls-peer-cn"

// NewRouter builds the chi router serving every edge endpoint behind
// standard request-ID and recover middleware.
func NewRouter(p *Pipeline, log *logrus.Logger, trustedProxies []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(trustedProxies) > 0 {
		r.Use(TrustedRealIP(trustedProxies))
	}
	r.Use(ipRateLimit(600, time.Minute))
	r.Use(requestLogger(log))
	r.Handle("/*", p)
	return r
}

// ipRateLimit is a coarse per-IP abuse guard sitting in front of the
// pipeline's own per-(endpoint,client) limiter.
func ipRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				return r.RemoteAddr, nil
			}
			return host, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":    http.StatusTooManyRequests,
				"message": "rate limit exceeded",
				"reason":  "TooManyRequests",
			})
		}),
	)
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.WithFields(logrus.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"duration_ms": time.Since(start).Milliseconds(),
					"request_id":  middleware.GetReqID(r.Context()),
				}).Info("request handled")
			}
		})
	}
}

// NewHTTPServer builds a plain http.Server with conservative timeouts.
func NewHTTPServer(handler http.Handler, address string) *http.Server {
	return &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// NewTLSServer builds an http.Server whose ConnContext records the
// peer's verified common name once the handshake completes.
func NewTLSServer(handler http.Handler, address string, tlsConfig *tls.Config, log *logrus.Logger) *http.Server {
	srv := NewHTTPServer(handler, address)
	srv.TLSConfig = tlsConfig
	srv.ConnContext = func(ctx context.Context, c net.Conn) context.Context {
		tc, ok := c.(*tls.Conn)
		if !ok {
			return ctx
		}
		if err := tc.HandshakeContext(ctx); err != nil {
			if log != nil {
				log.WithError(err).WithField("remote", tc.RemoteAddr().String()).Warn("tls handshake failed")
			}
			return ctx
		}
		state := tc.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			return ctx
		}
		return context.WithValue(ctx, TLSPeerCommonNameKey, state.PeerCertificates[0].Subject.CommonName)
	}
	return srv
}

// NewUnixListener binds a Unix domain socket listener; the gateway serves
// the same edge router on it as on the TCP listener.
func NewUnixListener(path string) (net.Listener, error) {
	return net.Listen("unix", path)
}

// ReverseProxyForwarder implements Forwarder by proxying to the chosen
// upstream over plain HTTP. Request headers, including the loop-detection
// header set by the pipeline, are passed to the upstream unchanged.
type ReverseProxyForwarder struct {
	Log *logrus.Logger
}

func (f *ReverseProxyForwarder) Forward(w http.ResponseWriter, r *http.Request, upstreamAddr string) {
	target := &url.URL{Scheme: "http", Host: upstreamAddr}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		if f.Log != nil {
			f.Log.WithError(err).WithField("upstream", upstreamAddr).Warn("forward failed")
		}
		rw.WriteHeader(http.StatusBadGateway)
		_, _ = rw.Write([]byte("Bad Gateway"))
	}
	proxy.ServeHTTP(w, r)
}
