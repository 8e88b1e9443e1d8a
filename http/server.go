package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	Name         string
	Logger       *slog.Logger
	Limits       Limits
	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	// NotFound answers requests no route matches.
	NotFound Handler

	listener net.Listener
	inst     *instruments

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
	closing bool
	conns   map[net.Conn]bool // value reports whether the conn is idle
	connsWG sync.WaitGroup
}

type Option func(*Server)

func WithName(name string) Option {
	return func(s *Server) { s.Name = name }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.Logger = logger }
}

func WithLimits(limits Limits) Option {
	return func(s *Server) { s.Limits = limits }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.IdleTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.WriteTimeout = d }
}

func WithNotFound(h Handler) Option {
	return func(s *Server) { s.NotFound = h }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) { s.meterProvider = mp }
}

// New binds addr. Binding happens here rather than in Start so that a bad
// address fails startup before any route is served.
func New(addr string, opts ...Option) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http: bind %s: %w", addr, err)
	}

	s, err := NewFromListener(listener, opts...)
	if err != nil {
		listener.Close()
		return nil, err
	}
	return s, nil
}

// NewFromListener serves on an already bound listener.
func NewFromListener(listener net.Listener, opts ...Option) (*Server, error) {
	s := &Server{
		Name:         DefaultServerName,
		Logger:       slog.Default(),
		Limits:       DefaultLimits(),
		IdleTimeout:  DefaultIdleTimeout,
		WriteTimeout: DefaultWriteTimeout,
		NotFound:     StaticResponderFor(StatusNotFound),
		listener:     listener,
		conns:        make(map[net.Conn]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	inst, err := newInstruments(s.tracerProvider, s.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("http: create instruments: %w", err)
	}
	s.inst = inst
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start accepts connections and serves each on its own goroutine until the
// listener fails. routes must be fully registered before Start is called
// and not changed afterwards. After Shutdown, Start returns ErrServerClosed.
func (s *Server) Start(routes *Router) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerStarted
	}
	s.started = true
	s.mu.Unlock()

	s.Logger.Info("server listening",
		slog.String("address", s.listener.Addr().String()),
		slog.Int("routes", len(routes.bindings)),
	)

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.Logger.Warn("accept failed, retrying",
					slog.Any("error", err),
					slog.Duration("backoff", backoff),
				)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.connsWG.Done()
			s.ServeConn(conn, routes)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// Shutdown stops accepting, closes idle connections and waits for the
// others to finish their current request. When ctx ends first the remaining
// connections are closed forcibly and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for conn, idle := range s.conns {
		if idle {
			conn.Close()
		}
	}
	s.mu.Unlock()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	done := make(chan struct{})
	go func() {
		s.connsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = false
	s.connsWG.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// markIdle flags conn as waiting for a request. It reports false when the
// server is shutting down and the conn should close instead.
func (s *Server) markIdle(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	if _, found := s.conns[conn]; found {
		s.conns[conn] = true
	}
	return true
}

func (s *Server) markActive(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.conns[conn]; found {
		s.conns[conn] = false
	}
}
