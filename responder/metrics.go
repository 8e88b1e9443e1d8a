package responder

import (
	"bytes"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"github.com/freekieb7/cinder/http"
)

// Metrics owns a Prometheus registry with the per-route request metrics and
// the runtime collectors.
type Metrics struct {
	Registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Requests served, by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Time spent building responses.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Responses currently being built.",
		}),
	}

	m.Registry.MustRegister(
		m.requests,
		m.duration,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Render encodes every registered family in the text exposition format.
func (m *Metrics) Render() ([]byte, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(_ *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
		payload, err := m.Render()
		if err != nil {
			return nil, err
		}
		return http.NewResponse(http.StatusOK).
			WithHeader("Content-Type", string(expfmt.FmtText)).
			WithBody(bytes.NewReader(payload), int64(len(payload))), nil
	})
}

type instrumentHandler struct {
	next    http.Handler
	metrics *Metrics
	route   string
}

// Instrument records every request reaching the wrapped handler under the
// given route label. Requests rejected during validation are counted too.
func (m *Metrics) Instrument(route string) http.Middleware {
	return func(next http.Handler) http.Handler {
		return &instrumentHandler{next: next, metrics: m, route: route}
	}
}

func (h *instrumentHandler) Validate(req *http.Request, params http.Params, v http.Validation) (http.Validation, error) {
	out, err := h.next.Validate(req, params, v)
	if err != nil {
		h.observe(req, http.StatusOf(err))
	}
	return out, err
}

func (h *instrumentHandler) BuildResponse(req *http.Request, params http.Params, v http.Validation) (*http.Response, error) {
	h.metrics.inFlight.Inc()
	defer h.metrics.inFlight.Dec()

	start := time.Now()
	res, err := h.next.BuildResponse(req, params, v)
	h.metrics.duration.WithLabelValues(req.Method, h.route).Observe(time.Since(start).Seconds())

	status := http.StatusOf(err)
	if err == nil && res != nil {
		status = res.Status
	}
	h.observe(req, status)
	return res, err
}

func (h *instrumentHandler) observe(req *http.Request, status uint16) {
	h.metrics.requests.WithLabelValues(req.Method, h.route, strconv.Itoa(int(status))).Inc()
}
