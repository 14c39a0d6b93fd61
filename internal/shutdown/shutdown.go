// Package shutdown implements signal-triggered draining of the inflight
// counter with a timeout, extended with a persistent cursor so a
// restart can resume at-least-once processing.
//
// A priority-ordered component registry is drained highest-priority
// first, each with its own timeout, with status queryable mid-drain via
// NewShutdownManager/Register/Shutdown/GetShutdownStatus/EnableFailFast.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyrup-ai/sugora/internal/load"
)

// Priority controls drain order: higher values drain first.
type Priority int

const (
	PriorityLast    Priority = 0
	PriorityLowest  Priority = 10
	PriorityLow     Priority = 20
	PriorityNormal  Priority = 30
	PriorityHigh    Priority = 40
	PriorityHighest Priority = 50
)

// Standard per-component timeouts.
const (
	TimeoutQuick      = 2 * time.Second
	TimeoutStandard   = 10 * time.Second
	TimeoutDatabase   = 20 * time.Second
	TimeoutCompletion = 30 * time.Second
)

// DrainFunc is a component's shutdown callback.
type DrainFunc func(ctx context.Context) error

type component struct {
	name     string
	priority Priority
	timeout  time.Duration
	drain    DrainFunc
}

// CompletedComponent records one drained component's outcome.
type CompletedComponent struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Status is a point-in-time snapshot queryable while shutdown runs.
type Status struct {
	IsShuttingDown      bool
	State               string // "idle" | "initiated" | "in_progress" | "complete"
	ShutdownInitiated   *time.Time
	ActiveComponents    []string
	CompletedComponents []CompletedComponent
}

// Manager coordinates graceful drain of every registered component plus
// the gateway's inflight LoadCounter, persisting a cursor to dataDir so
// a restart can resume where it left off.
type Manager struct {
	log         *logrus.Logger
	serviceName string
	dataDir     string
	counter     *load.Counter
	failFast    bool
	forceStop   func()

	signals []os.Signal

	mu         sync.Mutex
	components []component
	status     Status
}

// NewShutdownManager builds a Manager defaulting to SIGTERM/SIGINT/SIGQUIT.
func NewShutdownManager(log *logrus.Logger) *Manager {
	return &Manager{
		log:     log,
		signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT},
		status:  Status{State: "idle"},
	}
}

// NewManager is an alias kept for callers following the builder-pattern
// naming used elsewhere in the corpus.
func NewManager(log *logrus.Logger) *Manager { return NewShutdownManager(log) }

func (m *Manager) SetServiceName(name string) *Manager {
	m.serviceName = name
	return m
}

// WithDataDir sets the directory the drain cursor is persisted under.
func (m *Manager) WithDataDir(dir string) *Manager {
	m.dataDir = dir
	return m
}

// WithCounter attaches the inflight LoadCounter this Manager drains to
// zero before declaring shutdown complete.
func (m *Manager) WithCounter(c *load.Counter) *Manager {
	m.counter = c
	return m
}

func (m *Manager) WithSignals(sigs ...os.Signal) *Manager {
	m.signals = sigs
	return m
}

func (m *Manager) WithForceStop(fn func()) *Manager {
	m.forceStop = fn
	return m
}

// EnableFailFast makes Shutdown return on the first component error
// instead of continuing to drain the rest.
func (m *Manager) EnableFailFast() *Manager {
	m.failFast = true
	return m
}

// Register adds a component to be drained on Shutdown, highest priority
// first within its own timeout budget.
func (m *Manager) Register(name string, priority Priority, timeout time.Duration, drain DrainFunc) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, priority: priority, timeout: timeout, drain: drain})
	return m
}

// GetShutdownStatus returns a snapshot safe to call concurrently with Shutdown.
func (m *Manager) GetShutdownStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.status
	out.ActiveComponents = append([]string(nil), m.status.ActiveComponents...)
	out.CompletedComponents = append([]CompletedComponent(nil), m.status.CompletedComponents...)
	return out
}

// HandleSignals blocks until one of the configured signals arrives, then
// runs Shutdown with the given grace period.
func (m *Manager) HandleSignals(ctx context.Context, grace time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, m.signals...)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return m.Shutdown(drainCtx)
}

// Shutdown drains every registered component, highest priority first,
// then drains the inflight counter to zero, then persists a cursor
// marking a clean stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	now := time.Now()
	m.mu.Lock()
	m.status = Status{IsShuttingDown: true, State: "initiated", ShutdownInitiated: &now}
	ordered := append([]component(nil), m.components...)
	m.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].priority > ordered[j].priority })

	m.setState("in_progress")

	var firstErr error
	for _, c := range ordered {
		m.markActive(c.name)
		start := time.Now()

		compCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := m.runDrain(compCtx, c.drain)
		cancel()

		m.recordCompleted(c.name, time.Since(start), err)
		if err != nil {
			m.log.WithError(err).WithField("component", c.name).Warn("component drain failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("component %s: %w", c.name, err)
			}
			if m.failFast {
				break
			}
		}
	}

	if m.counter != nil && firstErr == nil {
		if err := m.drainCounter(ctx); err != nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		if err := m.persistCursor(); err != nil {
			m.log.WithError(err).Warn("failed to persist shutdown cursor")
		}
	}

	m.setState("complete")
	return firstErr
}

func (m *Manager) runDrain(ctx context.Context, fn DrainFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during drain: %v", r)
		}
	}()
	return fn(ctx)
}

func (m *Manager) drainCounter(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.counter.Current() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out draining %d inflight requests", m.counter.Current())
		case <-ticker.C:
		}
	}
}

func (m *Manager) markActive(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.ActiveComponents = append(m.status.ActiveComponents, name)
}

func (m *Manager) recordCompleted(name string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.ActiveComponents = removeString(m.status.ActiveComponents, name)
	m.status.CompletedComponents = append(m.status.CompletedComponents, CompletedComponent{Name: name, Duration: d, Err: err})
}

func (m *Manager) setState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.State = state
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// cursorPath is where the drain cursor lives under dataDir.
func (m *Manager) cursorPath() string {
	return filepath.Join(m.dataDir, "shutdown-cursor")
}

// persistCursor writes the unix timestamp of a clean shutdown so a
// restart can tell whether it followed a graceful stop.
func (m *Manager) persistCursor() error {
	if m.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.WriteFile(m.cursorPath(), []byte(strconv.FormatInt(time.Now().Unix(), 10)), 0o600)
}

// LoadCursor reads the last persisted cursor, if any.
func (m *Manager) LoadCursor() (time.Time, bool, error) {
	data, err := os.ReadFile(m.cursorPath())
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor: %w", err)
	}
	unixSec, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor: %w", err)
	}
	return time.Unix(unixSec, 0), true, nil
}
