package http

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// Middleware wraps a Handler in a decorator.
type Middleware func(next Handler) Handler

// Chain applies middleware so the first one listed runs first.
func Chain(h Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

type recoverHandler struct {
	next   Handler
	logger *slog.Logger
}

// Recover turns a panic in either phase into a 500. The connection loop
// recovers as well; this decorator only adds the log record with the route
// context.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return &recoverHandler{next: next, logger: logger}
	}
}

func (h *recoverHandler) Validate(req *Request, params Params, v Validation) (out Validation, err error) {
	defer h.recover(req, &err)
	return h.next.Validate(req, params, v)
}

func (h *recoverHandler) BuildResponse(req *Request, params Params, v Validation) (res *Response, err error) {
	defer h.recover(req, &err)
	return h.next.BuildResponse(req, params, v)
}

func (h *recoverHandler) recover(req *Request, err *error) {
	if r := recover(); r != nil {
		h.logger.ErrorContext(req.Context(), "handler panicked",
			slog.String("method", req.Method),
			slog.String("uri", req.URI),
			slog.Any("panic", r),
		)
		*err = fmt.Errorf("http: handler panic: %v", r)
	}
}

type loggingHandler struct {
	next   Handler
	logger *slog.Logger
}

// Logging records every failed phase and every built response at debug
// level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return &loggingHandler{next: next, logger: logger}
	}
}

func (h *loggingHandler) Validate(req *Request, params Params, v Validation) (Validation, error) {
	out, err := h.next.Validate(req, params, v)
	if err != nil {
		h.logger.DebugContext(req.Context(), "validation rejected request",
			slog.String("method", req.Method),
			slog.String("uri", req.URI),
			slog.Int("status", int(StatusOf(err))),
		)
	}
	return out, err
}

func (h *loggingHandler) BuildResponse(req *Request, params Params, v Validation) (*Response, error) {
	start := time.Now()
	res, err := h.next.BuildResponse(req, params, v)

	status := StatusOf(err)
	if err == nil && res != nil {
		status = res.Status
	}
	h.logger.DebugContext(req.Context(), "response built",
		slog.String("method", req.Method),
		slog.String("uri", req.URI),
		slog.Int("status", int(status)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, err
}

// limiterPool hands out one token bucket per client host. Buckets idle for
// longer than idle are swept at most once per idle period.
type limiterPool struct {
	limiters *xsync.MapOf[string, *limiterEntry]
	limit    rate.Limit
	burst    int
	idle     time.Duration
	lastGC   atomic.Int64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	p := &limiterPool{
		limiters: xsync.NewMapOf[string, *limiterEntry](),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
	}
	p.lastGC.Store(time.Now().UnixNano())
	return p
}

func (p *limiterPool) get(key string) *rate.Limiter {
	now := time.Now().UnixNano()
	if last := p.lastGC.Load(); now-last > int64(p.idle) && p.lastGC.CompareAndSwap(last, now) {
		p.limiters.Range(func(k string, e *limiterEntry) bool {
			if now-e.lastSeen.Load() > int64(p.idle) {
				p.limiters.Delete(k)
			}
			return true
		})
	}

	e, _ := p.limiters.LoadOrCompute(key, func() *limiterEntry {
		return &limiterEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
	})
	e.lastSeen.Store(now)
	return e.limiter
}

type rateLimitHandler struct {
	next Handler
	pool *limiterPool
}

// RateLimit rejects requests with 429 once a client host exceeds rps with
// the given burst. The check runs in Validate so a rejected request never
// reaches the wrapped handler.
func RateLimit(rps float64, burst int) Middleware {
	pool := newLimiterPool(rps, burst)
	return func(next Handler) Handler {
		return &rateLimitHandler{next: next, pool: pool}
	}
}

func (h *rateLimitHandler) Validate(req *Request, params Params, v Validation) (Validation, error) {
	host := req.RemoteAddr
	if split, _, err := net.SplitHostPort(host); err == nil {
		host = split
	}
	if !h.pool.get(host).Allow() {
		return nil, Error(StatusTooManyRequests)
	}
	return h.next.Validate(req, params, v)
}

func (h *rateLimitHandler) BuildResponse(req *Request, params Params, v Validation) (*Response, error) {
	return h.next.BuildResponse(req, params, v)
}
