package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/sugora/internal/protocol"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatchInitializeReturnsImplementationInfo(t *testing.T) {
	d := New(DefaultHandler{Version: "1.2.3"}, 4, testLogger(), nil)
	defer d.Close()

	resp, err := d.Send(context.Background(), protocol.CanonicalRequest{JSONRPC: "2.0", ID: "1", Method: "initialize"})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "1.2.3")
	assert.Equal(t, "1", resp.ID)
}

func TestDispatchShutdownTriggersCallback(t *testing.T) {
	done := make(chan struct{})
	d := New(DefaultHandler{}, 4, testLogger(), func() { close(done) })
	defer d.Close()

	resp, err := d.Send(context.Background(), protocol.CanonicalRequest{JSONRPC: "2.0", ID: "1", Method: "shutdown"})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Equal(t, json.RawMessage("null"), resp.Result)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}

func TestDispatchDefaultEchoesMethodAndParams(t *testing.T) {
	d := New(DefaultHandler{}, 4, testLogger(), nil)
	defer d.Close()

	resp, err := d.Send(context.Background(), protocol.CanonicalRequest{
		JSONRPC: "2.0", ID: "1", Method: "tools/list", Params: json.RawMessage(`{"cursor":"a"}`),
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"tools/list"`)
	assert.Contains(t, string(resp.Result), `"handled"`)
}

func TestSendRepliesToEveryConcurrentCaller(t *testing.T) {
	n := 20
	d := New(DefaultHandler{}, n, testLogger(), nil)
	defer d.Close()

	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			resp, err := d.Send(context.Background(), protocol.CanonicalRequest{
				JSONRPC: "2.0", ID: i, Method: "echo",
			})
			require.NoError(t, err)
			results <- string(resp.Result)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-results
	}
}

func TestSendReturnsErrorOnContextCancel(t *testing.T) {
	d := New(blockingHandler{}, 1, testLogger(), nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := d.Send(ctx, protocol.CanonicalRequest{JSONRPC: "2.0", ID: "1", Method: "slow"})
	require.Error(t, err)
}

func TestSendFailsFastWhenChannelFull(t *testing.T) {
	d := New(blockingHandler{}, 0, testLogger(), nil)
	defer d.Close()

	go func() {
		_, _ = d.Send(context.Background(), protocol.CanonicalRequest{JSONRPC: "2.0", ID: "1", Method: "slow"})
	}()
	time.Sleep(10 * time.Millisecond) // let the consumer pick up the first send

	_, err := d.Send(context.Background(), protocol.CanonicalRequest{JSONRPC: "2.0", ID: "2", Method: "slow"})
	require.ErrorIs(t, err, ErrChannelFull)
}

type blockingHandler struct{ DefaultHandler }

func (blockingHandler) HandleMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	time.Sleep(50 * time.Millisecond)
	return json.RawMessage(`{}`), nil
}
