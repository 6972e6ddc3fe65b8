package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/protocol"
)

// echoHandler answers every payload with {"echo": payload}.
type echoHandler struct {
	mu       sync.Mutex
	payloads []string
	block    chan struct{}
	started  chan struct{}
}

func (h *echoHandler) Dispatch(_ context.Context, payload string) protocol.CommandResponse {
	h.mu.Lock()
	h.payloads = append(h.payloads, payload)
	h.mu.Unlock()
	if h.started != nil {
		h.started <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	if payload == "huge" {
		resp, _ := protocol.OKResponse(map[string]string{"echo": strings.Repeat("x", protocol.MaxPayloadLength)})
		return resp
	}
	resp, _ := protocol.OKResponse(map[string]string{"echo": payload})
	return resp
}

func startServer(t *testing.T, cfg Config, h Handler) (*Server, context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(cfg, h, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		assert.ErrorIs(t, <-done, ErrServerClosed)
	})
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	return srv, cancel
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readEcho(t *testing.T, r *protocol.Reader) string {
	t.Helper()
	text, err := r.ReadCommand()
	require.NoError(t, err)
	resp, err := protocol.ParseResponse(text)
	require.NoError(t, err)
	require.True(t, resp.IsOK())
	var out map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out["echo"]
}

func TestServer_RespondsInOrder(t *testing.T) {
	srv, _ := startServer(t, Config{}, &echoHandler{})
	c := dial(t, srv)
	r := protocol.NewReader(c)

	// Two frames in one write, the second split across two writes.
	_, err := c.Write([]byte("0003one0003two00"))
	require.NoError(t, err)
	_, err = c.Write([]byte("05three"))
	require.NoError(t, err)

	assert.Equal(t, "one", readEcho(t, r))
	assert.Equal(t, "two", readEcho(t, r))
	assert.Equal(t, "three", readEcho(t, r))
}

func TestServer_ClosesOnMalformedPrefix(t *testing.T) {
	srv, _ := startServer(t, Config{}, &echoHandler{})
	c := dial(t, srv)

	_, err := c.Write([]byte("00x1{}"))
	require.NoError(t, err)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ReplacesUnframeableResponse(t *testing.T) {
	srv, _ := startServer(t, Config{}, &echoHandler{})
	c := dial(t, srv)
	r := protocol.NewReader(c)

	require.NoError(t, protocol.WriteFrame(c, "huge"))
	text, err := r.ReadCommand()
	require.NoError(t, err)

	want, err := protocol.InternalErrorResponse.JSON()
	require.NoError(t, err)
	assert.Equal(t, want, text)
}

func TestServer_IdleTimeout(t *testing.T) {
	srv, _ := startServer(t, Config{IdleTimeout: 50 * time.Millisecond}, &echoHandler{})
	c := dial(t, srv)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_ConnectionLimit(t *testing.T) {
	h := &echoHandler{}
	srv, _ := startServer(t, Config{MaxConnections: 1}, h)

	first := dial(t, srv)
	r := protocol.NewReader(first)
	require.NoError(t, protocol.WriteFrame(first, "hello"))
	assert.Equal(t, "hello", readEcho(t, r))

	second := dial(t, srv)
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, time.Second, 5*time.Millisecond)

	third := dial(t, srv)
	require.NoError(t, protocol.WriteFrame(third, "again"))
	assert.Equal(t, "again", readEcho(t, protocol.NewReader(third)))
}

func TestServer_ConcurrentConnections(t *testing.T) {
	srv, _ := startServer(t, Config{}, &echoHandler{})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := net.Dial("tcp", srv.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = c.Close() }()
			r := protocol.NewReader(c)
			for j := range 5 {
				payload := strings.Repeat("a", i+1) + strings.Repeat("b", j+1)
				if !assert.NoError(t, protocol.WriteFrame(c, payload)) {
					return
				}
				text, err := r.ReadCommand()
				if !assert.NoError(t, err) {
					return
				}
				assert.Contains(t, text, payload)
			}
		}(i)
	}
	wg.Wait()
}

func TestServer_ShutdownWaitsForInFlightCommand(t *testing.T) {
	h := &echoHandler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	srv, _ := startServer(t, Config{}, h)

	busy := dial(t, srv)
	idle := dial(t, srv)
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, protocol.WriteFrame(busy, "slow"))
	<-h.started

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()

	// Idle connections are closed right away.
	_ = idle.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := idle.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.True(t, srv.IsShuttingDown())

	close(h.block)
	assert.Equal(t, "slow", readEcho(t, protocol.NewReader(busy)))
	assert.NoError(t, <-shutdownErr)
}

func TestServer_ShutdownDropsPipelinedCommands(t *testing.T) {
	h := &echoHandler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	srv, _ := startServer(t, Config{}, h)

	c := dial(t, srv)
	_, err := c.Write([]byte("0004slow0004next"))
	require.NoError(t, err)
	<-h.started

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()
	require.Eventually(t, srv.IsShuttingDown, time.Second, 5*time.Millisecond)

	close(h.block)
	r := protocol.NewReader(c)
	assert.Equal(t, "slow", readEcho(t, r))

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = r.ReadCommand()
	assert.Error(t, err)
	assert.NoError(t, <-shutdownErr)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"slow"}, h.payloads)
}

func TestServer_ShutdownDeadline(t *testing.T) {
	h := &echoHandler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	srv, _ := startServer(t, Config{}, h)
	defer close(h.block)

	c := dial(t, srv)
	require.NoError(t, protocol.WriteFrame(c, "stuck"))
	<-h.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- srv.Shutdown(ctx) }()

	// The handler is still blocked; unblock it once the deadline passed so
	// the forced close can finish.
	time.Sleep(100 * time.Millisecond)
	h.block <- struct{}{}
	assert.True(t, errors.Is(<-errc, context.DeadlineExceeded))
}

func TestConfigFrom(t *testing.T) {
	conf := config.Default()
	conf.Port = 9000
	conf.ConnectionIdleTimeoutInSeconds = 30

	cfg := ConfigFrom(&conf)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, config.DefaultMaxConcurrentConnections, cfg.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)

	conf.LocalhostOnly = false
	assert.Equal(t, ":9000", ConfigFrom(&conf).Addr)
}
