package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
	"github.com/teemow/oxd/internal/protocol"
)

// DefaultWriteTimeout bounds writing one response frame.
const DefaultWriteTimeout = 30 * time.Second

// ErrServerClosed is returned by Serve after Shutdown or context cancellation.
var ErrServerClosed = errors.New("server closed")

// Handler produces the response for one command payload.
type Handler interface {
	Dispatch(ctx context.Context, payload string) protocol.CommandResponse
}

// Config holds the listener settings.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string

	// MaxConnections caps concurrently served connections. Connections
	// beyond the cap are closed right after accept. Zero means no cap.
	MaxConnections int

	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds writing one response.
	WriteTimeout time.Duration
}

// ConfigFrom derives the listener settings from the daemon configuration.
func ConfigFrom(conf *config.Configuration) Config {
	host := ""
	if conf.LocalhostOnly {
		host = "127.0.0.1"
	}
	return Config{
		Addr:           net.JoinHostPort(host, strconv.Itoa(conf.Port)),
		MaxConnections: conf.MaxConcurrentConnections,
		IdleTimeout:    conf.ConnectionIdleTimeout(),
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// Server accepts TCP connections and answers framed commands on them.
type Server struct {
	cfg     Config
	handler Handler
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	slots        chan struct{}
	shuttingDown atomic.Bool
	active       atomic.Int64
	wg           sync.WaitGroup

	mu          sync.Mutex
	listener    net.Listener
	conns       map[*trackedConn]struct{}
	cancelConns context.CancelFunc
}

type trackedConn struct {
	net.Conn
	busy atomic.Bool
}

// NewServer creates a Server. metrics may be nil.
func NewServer(cfg Config, handler Handler, metrics *instrumentation.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		logger:  logger,
		conns:   make(map[*trackedConn]struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.slots = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Serve accepts connections on ln until ctx is done or Shutdown is called.
// It returns ErrServerClosed in both cases. Connections keep being served
// after Serve returns; call Shutdown to drain them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	// Connections outlive a cancelled Serve context until Shutdown drains them.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelConns = cancelConns
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.shuttingDown.Store(true)
		_ = ln.Close()
	})
	defer stop()

	s.logger.Info("listening for commands", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed, retrying", logging.Err(err), "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0

		if !s.acquireSlot() {
			s.logger.Warn("connection limit reached, rejecting connection",
				logging.RemoteAddr(nc.RemoteAddr().String()), "max_connections", s.cfg.MaxConnections)
			_ = nc.Close()
			continue
		}

		c := &trackedConn{Conn: nc}
		if !s.track(c) {
			s.releaseSlot()
			_ = nc.Close()
			return ErrServerClosed
		}
		go s.serveConn(connCtx, c)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) acquireSlot() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) releaseSlot() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Server) track(c *trackedConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *trackedConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serveConn(ctx context.Context, c *trackedConn) {
	remote := c.RemoteAddr().String()
	logger := logging.WithConnection(s.logger, remote)
	ctx = WithRemoteAddr(ctx, remote)

	s.active.Add(1)
	s.metrics.IncrementActiveConnections(ctx)
	defer func() {
		_ = c.Close()
		s.releaseSlot()
		s.untrack(c)
		s.metrics.DecrementActiveConnections(ctx)
		s.active.Add(-1)
		logger.Debug("connection closed")
	}()

	logger.Debug("connection accepted")
	reader := protocol.NewReader(c)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		payload, err := reader.ReadCommand()
		if err != nil {
			s.logReadError(logger, err)
			return
		}
		c.busy.Store(true)

		resp := s.handler.Dispatch(ctx, payload)
		if err := s.writeResponse(c, resp); err != nil {
			logger.Warn("failed to write response", logging.Err(err))
			return
		}

		c.busy.Store(false)
		if s.shuttingDown.Load() {
			if n := reader.Buffered(); n > 0 {
				logger.Warn("closing connection with unanswered input", "buffered_bytes", n)
			}
			return
		}
	}
}

func (s *Server) logReadError(logger *slog.Logger, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
	case errors.Is(err, net.ErrClosed):
	case errors.Is(err, io.ErrUnexpectedEOF):
		logger.Debug("connection closed mid frame")
	case errors.Is(err, protocol.ErrMalformedFrame):
		logger.Warn("malformed frame, closing connection", logging.Err(err))
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		logger.Debug("connection idle timeout")
	default:
		logger.Warn("failed to read frame", logging.Err(err))
	}
}

// writeResponse frames resp. A response that does not fit into a frame is
// replaced by the internal error response.
func (s *Server) writeResponse(c net.Conn, resp protocol.CommandResponse) error {
	text, err := resp.JSON()
	if err != nil || len(text) > protocol.MaxPayloadLength {
		s.logger.Error("response cannot be framed", "length", len(text), logging.Err(err))
		text, err = protocol.InternalErrorResponse.JSON()
		if err != nil {
			return err
		}
	}
	_ = c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return protocol.WriteFrame(c, text)
}

// Shutdown stops accepting connections, closes idle ones and waits for
// in-flight commands to be answered. When ctx ends first, remaining
// connections are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown.Store(true)
	ln := s.listener
	cancelConns := s.cancelConns
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.closeConns(false)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancelConns != nil {
			cancelConns()
		}
		s.logger.Info("command server stopped")
		return nil
	case <-ctx.Done():
		if cancelConns != nil {
			cancelConns()
		}
		s.closeConns(true)
		<-done
		return ctx.Err()
	}
}

func (s *Server) closeConns(includeBusy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if includeBusy || !c.busy.Load() {
			_ = c.Close()
		}
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsShuttingDown reports whether Shutdown was called or the serve context
// ended.
func (s *Server) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}
