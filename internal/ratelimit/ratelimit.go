// Package ratelimit implements a per-endpoint token bucket evaluated
// before a per-(endpoint,client) sliding window. Token buckets use
// golang.org/x/time/rate, the idiomatic Go token bucket, in place of a
// hand-rolled CAS loop, since rate.Limiter already gives a wait-free
// AllowN with linear-refill semantics. Per-key bucket/window state is
// held in github.com/jellydator/ttlcache/v3, whose TTL eviction gives
// the "entries evicted after idle timeout" requirement for free instead
// of a hand-written sweep goroutine.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// Options configures a Limiter.
type Options struct {
	// BucketCapacity and BucketRefillPerSec define the per-endpoint token
	// bucket: burst capacity and linear tokens-per-second refill.
	BucketCapacity     float64
	BucketRefillPerSec float64

	// WindowLimit and WindowDuration define the per-(endpoint,client)
	// sliding window: at most WindowLimit admissions within WindowDuration.
	WindowLimit    int
	WindowDuration time.Duration

	// IdleTimeout bounds memory: per-key state is evicted after this long
	// without activity.
	IdleTimeout time.Duration
}

// DefaultOptions provides generous defaults: generous burst, a
// ten-second sliding window, five minutes of idle retention.
func DefaultOptions() Options {
	return Options{
		BucketCapacity:     50,
		BucketRefillPerSec: 10,
		WindowLimit:        100,
		WindowDuration:     10 * time.Second,
		IdleTimeout:        5 * time.Minute,
	}
}

// Limiter evaluates the token bucket first, then the sliding window;
// both must admit for Check to return true.
type Limiter struct {
	opts Options

	buckets *ttlcache.Cache[string, *rate.Limiter]
	windows *ttlcache.Cache[string, *window]
}

// New builds a Limiter and starts its background idle-eviction loops.
func New(opts Options) *Limiter {
	buckets := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](opts.IdleTimeout),
	)
	windows := ttlcache.New[string, *window](
		ttlcache.WithTTL[string, *window](opts.IdleTimeout),
	)
	go buckets.Start()
	go windows.Start()

	return &Limiter{opts: opts, buckets: buckets, windows: windows}
}

// Stop halts the background eviction loops.
func (l *Limiter) Stop() {
	l.buckets.Stop()
	l.windows.Stop()
}

// Check admits a request of the given cost for (endpoint, clientID). Both
// the endpoint's token bucket and the (endpoint,client) sliding window
// must admit.
func (l *Limiter) Check(endpoint, clientID string, cost float64) bool {
	if !l.checkBucket(endpoint, cost) {
		return false
	}
	return l.checkWindow(endpoint, clientID)
}

func (l *Limiter) checkBucket(endpoint string, cost float64) bool {
	item := l.buckets.Get(endpoint)
	var limiter *rate.Limiter
	if item == nil {
		limiter = rate.NewLimiter(rate.Limit(l.opts.BucketRefillPerSec), int(l.opts.BucketCapacity))
		l.buckets.Set(endpoint, limiter, ttlcache.DefaultTTL)
	} else {
		limiter = item.Value()
		l.buckets.Set(endpoint, limiter, ttlcache.DefaultTTL) // refresh idle TTL
	}
	n := int(cost)
	if n < 1 {
		n = 1
	}
	return limiter.AllowN(time.Now(), n)
}

func (l *Limiter) checkWindow(endpoint, clientID string) bool {
	key := endpoint + "|" + clientID
	item := l.windows.Get(key)
	var w *window
	if item == nil {
		w = newWindow(l.opts.WindowLimit)
		l.windows.Set(key, w, ttlcache.DefaultTTL)
	} else {
		w = item.Value()
		l.windows.Set(key, w, ttlcache.DefaultTTL)
	}
	return w.admit(l.opts.WindowDuration, l.opts.WindowLimit)
}

// window is a bounded ring of event timestamps within a sliding window,
// guarded by a short per-key critical section.
type window struct {
	mu     sync.Mutex
	events []time.Time
}

func newWindow(limit int) *window {
	return &window{events: make([]time.Time, 0, limit)}
}

func (w *window) admit(d time.Duration, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-d)

	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept

	if len(w.events) >= limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// ClientIdentity picks the rate-limit client key: the x-client-id
// header, else the first hop of x-forwarded-for, else the connection
// peer IP.
func ClientIdentity(clientIDHeader, forwardedFor, remoteAddr string) string {
	if clientIDHeader != "" {
		return clientIDHeader
	}
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return remoteAddr
}
