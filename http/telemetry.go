package http

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/freekieb7/cinder/http"

// instruments are resolved through the global providers, so they pick up
// whatever the process installs, even after the server was created.
type instruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	requests, errRequests := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Number of requests served"),
		metric.WithUnit("{request}"))
	duration, errDuration := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Time from the request line to the flushed response"),
		metric.WithUnit("s"))
	active, errActive := meter.Int64UpDownCounter("http.server.active_connections",
		metric.WithDescription("Connections currently open"),
		metric.WithUnit("{connection}"))
	if err := errors.Join(errRequests, errDuration, errActive); err != nil {
		return nil, err
	}

	return &instruments{
		tracer:   tp.Tracer(instrumentationName),
		requests: requests,
		duration: duration,
		active:   active,
	}, nil
}

func (in *instruments) startRequest(ctx context.Context, req *Request) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path()),
			attribute.String("network.peer.address", req.RemoteAddr),
		),
	)
}

// endRequest closes the span and records the request metrics. route is
// empty for unrouted requests.
func (in *instruments) endRequest(ctx context.Context, span trace.Span, req *Request, route string, status uint16, start time.Time) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", req.Method),
		attribute.Int("http.response.status_code", int(status)),
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}

	span.SetAttributes(attrs...)
	if status >= 500 {
		span.SetStatus(codes.Error, StatusText(status))
	}
	span.End()

	set := metric.WithAttributes(attrs...)
	in.requests.Add(ctx, 1, set)
	in.duration.Record(ctx, time.Since(start).Seconds(), set)
}

func (in *instruments) connOpened(ctx context.Context) {
	in.active.Add(ctx, 1)
}

func (in *instruments) connClosed(ctx context.Context) {
	in.active.Add(ctx, -1)
}
