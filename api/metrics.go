package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts and times requests by method, route pattern and status.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewHTTPMetrics registers the collectors on reg, or the default registerer
// when reg is nil. Already registered collectors are reused.
func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironca_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ironca_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ironca_http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
	}
	var err error
	if m.requests, err = registerCollector(reg, m.requests); err != nil {
		return nil, err
	}
	if m.duration, err = registerCollector(reg, m.duration); err != nil {
		return nil, err
	}
	if m.inflight, err = registerCollector(reg, m.inflight); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *HTTPMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inflight.Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			m.inflight.Dec()
			route := routePattern(r)
			m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
		}()
		next.ServeHTTP(rec, r)
	})
}

// routePattern is the matched chi pattern, so serials do not explode the
// label space.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
