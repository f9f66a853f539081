package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики обращений к gateway
var (
	gatewayInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_in_flight_requests",
		Help: "In-flight requests to the gateway.",
	})

	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests sent to the gateway.",
		},
		[]string{"method", "route", "status"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Gateway request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "route", "status"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Failed attempts of retried gateway operations.",
		},
		[]string{"op"},
	)

	documentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataload_documents_total",
			Help: "Documents sent by the data loader, by result.",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(gatewayInFlight, gatewayRequestsTotal, gatewayRequestDuration, retriesTotal, documentsTotal)
	})
}

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRetry counts one failed attempt of a retried operation.
func ObserveRetry(op string) {
	if op == "" {
		op = "unnamed"
	}
	retriesTotal.WithLabelValues(op).Inc()
}

// ObserveDocument counts one data-load document by result ("loaded", "failed", "skipped").
func ObserveDocument(result string) {
	documentsTotal.WithLabelValues(result).Inc()
}

// InstrumentTransport wraps an http.RoundTripper with gateway request metrics.
func InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		route := CanonicalPath(r.URL.Path)
		method := r.Method

		gatewayInFlight.Inc()
		defer gatewayInFlight.Dec()
		start := time.Now()

		resp, err := next.RoundTrip(r)

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		gatewayRequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
		gatewayRequestsTotal.WithLabelValues(method, route, status).Inc()
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// segments followed by an identifier on the gateway
var idCollections = map[string]bool{
	"modules":     true,
	"tenants":     true,
	"users":       true,
	"credentials": true,
	"interfaces":  true,
}

// sub-resources that must never be collapsed into :id
var fixedSegments = map[string]bool{
	"install":     true,
	"interfaces":  true,
	"permissions": true,
	"modules":     true,
}

// CanonicalPath collapses identifiers in gateway routes so metric label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i := 1; i < len(segs); i++ {
		if idCollections[segs[i-1]] && !fixedSegments[segs[i]] {
			segs[i] = ":id"
		}
	}
	return "/" + strings.Join(segs, "/")
}
