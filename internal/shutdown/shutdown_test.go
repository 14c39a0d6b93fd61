package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/sugora/internal/load"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestGetShutdownStatusStartsIdle(t *testing.T) {
	m := NewShutdownManager(testLogger())
	status := m.GetShutdownStatus()

	assert.False(t, status.IsShuttingDown)
	assert.Equal(t, "idle", status.State)
	assert.Nil(t, status.ShutdownInitiated)
	assert.Empty(t, status.ActiveComponents)
	assert.Empty(t, status.CompletedComponents)
}

func TestShutdownDrainsHighestPriorityFirst(t *testing.T) {
	m := NewShutdownManager(testLogger())
	var mu sync.Mutex
	var order []string
	record := func(name string) DrainFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m.Register("low", PriorityLow, TimeoutQuick, record("low"))
	m.Register("highest", PriorityHighest, TimeoutQuick, record("highest"))
	m.Register("normal", PriorityNormal, TimeoutQuick, record("normal"))

	err := m.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"highest", "normal", "low"}, order)

	status := m.GetShutdownStatus()
	assert.Equal(t, "complete", status.State)
	assert.True(t, status.IsShuttingDown)
	assert.NotNil(t, status.ShutdownInitiated)
	assert.Len(t, status.CompletedComponents, 3)
	assert.Empty(t, status.ActiveComponents)
}

func TestShutdownReturnsFirstComponentError(t *testing.T) {
	m := NewShutdownManager(testLogger())
	boom := errors.New("boom")

	m.Register("ok", PriorityHigh, TimeoutQuick, func(ctx context.Context) error { return nil })
	m.Register("broken", PriorityNormal, TimeoutQuick, func(ctx context.Context) error { return boom })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	status := m.GetShutdownStatus()
	require.Len(t, status.CompletedComponents, 2)
	assert.NoError(t, status.CompletedComponents[0].Err)
	assert.ErrorIs(t, status.CompletedComponents[1].Err, boom)
}

func TestShutdownFailFastStopsAfterFirstError(t *testing.T) {
	m := NewShutdownManager(testLogger()).EnableFailFast()
	var ranLast bool

	m.Register("first", PriorityHighest, TimeoutQuick, func(ctx context.Context) error {
		return errors.New("boom")
	})
	m.Register("second", PriorityNormal, TimeoutQuick, func(ctx context.Context) error {
		ranLast = true
		return nil
	})

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.False(t, ranLast)
}

func TestShutdownTimesOutSlowComponent(t *testing.T) {
	m := NewShutdownManager(testLogger())
	m.Register("slow", PriorityNormal, 5*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownRecoversFromPanickingComponent(t *testing.T) {
	m := NewShutdownManager(testLogger())
	m.Register("panics", PriorityNormal, TimeoutQuick, func(ctx context.Context) error {
		panic("component fell over")
	})

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panics")
}

func TestShutdownDrainsInflightCounterBeforeCompleting(t *testing.T) {
	counter := load.New()
	counter.Inc()

	m := NewShutdownManager(testLogger()).WithCounter(counter)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- m.Shutdown(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	counter.Dec()

	require.NoError(t, <-done)
}

func TestShutdownPersistsAndLoadsCursor(t *testing.T) {
	dir := t.TempDir()
	m := NewShutdownManager(testLogger()).WithDataDir(dir)

	require.NoError(t, m.Shutdown(context.Background()))

	cursorTime, found, err := m.LoadCursor()
	require.NoError(t, err)
	assert.True(t, found)
	assert.WithinDuration(t, time.Now(), cursorTime, 5*time.Second)

	_, err = os.Stat(filepath.Join(dir, "shutdown-cursor"))
	require.NoError(t, err)
}

func TestLoadCursorReturnsFalseWhenAbsent(t *testing.T) {
	m := NewShutdownManager(testLogger()).WithDataDir(t.TempDir())
	_, found, err := m.LoadCursor()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHandleSignalsReturnsContextErrorWhenCanceledFirst(t *testing.T) {
	m := NewShutdownManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.HandleSignals(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
