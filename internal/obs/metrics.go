package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth metrics
var (
	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ascms_auth_events_total",
			Help: "Authentication events by kind and result.",
		},
		[]string{"event", "result"},
	)

	tokensRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ascms_refresh_tokens_revoked_total",
			Help: "Refresh tokens revoked, by reason.",
		},
		[]string{"reason"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ascms_ready",
		Help: "1 when the API accepts traffic.",
	})
)

// Init registers all collectors in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authEventsTotal, tokensRevokedTotal, readyGauge,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthEvent counts one register/login/refresh/logout outcome.
func RecordAuthEvent(event, result string) {
	authEventsTotal.WithLabelValues(event, result).Inc()
}

// AuthEventCount reports the current value of one auth event counter.
func AuthEventCount(event, result string) float64 {
	var m dto.Metric
	if err := authEventsTotal.WithLabelValues(event, result).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// RecordTokensRevoked adds n revocations for reason. Zero is ignored.
func RecordTokensRevoked(reason string, n int64) {
	if n <= 0 {
		return
	}
	tokensRevokedTotal.WithLabelValues(reason).Add(float64(n))
}

func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Route templates whose variable segments are collapsed in the path label.
var routeTemplates = [][]string{
	{"users", ":id"},
	{"users", ":id", "activate"},
	{"users", ":id", "deactivate"},
	{"users", ":id", "confirm-email"},
	{"users", ":id", "reset-password"},
	{"users", ":id", "group"},
	{"users", ":id", "permissions"},
	{"users", ":id", "login-logs"},
	{"groups", ":id"},
	{"groups", ":id", "permissions"},
	{"groups", ":id", "permissions", ":code"},
}

// reserved segments never collapse into :id.
var reserved = map[string]bool{"me": true, "by-email": true, "statistics": true, "bulk": true}

// CanonicalPath maps a request path onto a bounded label set.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for _, tpl := range routeTemplates {
		if matchTemplate(tpl, segs) {
			return "/" + strings.Join(tpl, "/")
		}
	}
	return path
}

func matchTemplate(tpl, segs []string) bool {
	if len(tpl) != len(segs) {
		return false
	}
	for i, t := range tpl {
		if strings.HasPrefix(t, ":") {
			if segs[i] == "" || reserved[segs[i]] {
				return false
			}
			continue
		}
		if t != segs[i] {
			return false
		}
	}
	return true
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
