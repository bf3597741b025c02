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

// HTTP metrics.
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

// Domain metrics.
var (
	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voting_registrations_total",
			Help: "Registration attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voting_tokens_total",
			Help: "Voting tokens handed out, by path (issued, reused, recovered).",
		},
		[]string{"path"},
	)

	votesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voting_votes_total",
			Help: "Vote attempts by result.",
		},
		[]string{"result"},
	)

	ledgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voting_ledger_call_duration_seconds",
			Help:    "Ledger call latencies in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op", "result"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voting_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Voting API build information.",
		},
		[]string{"version", "commit"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			registrationsTotal, tokensTotal, votesTotal, ledgerCallDuration,
			ready, buildInfo,
		)
	})
}

// InitBuildInfo sets build_info{version,commit} to 1.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRegistration counts a registration outcome (accepted or a rejection reason).
func RecordRegistration(outcome string) {
	registrationsTotal.WithLabelValues(outcome).Inc()
}

// RecordToken counts a token handed to a voter.
func RecordToken(path string) {
	tokensTotal.WithLabelValues(path).Inc()
}

// RecordVote counts a vote attempt.
func RecordVote(result string) {
	votesTotal.WithLabelValues(result).Inc()
}

// ObserveLedgerCall records the latency of a single ledger operation.
func ObserveLedgerCall(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerCallDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// SetReady publishes the readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures RPS, latency and in-flight requests.
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

// CanonicalPath collapses path parameters so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if strings.HasPrefix(p, "/lookup-qr/") {
		rest := strings.TrimPrefix(p, "/lookup-qr/")
		if rest != "" && !strings.Contains(rest, "/") {
			return "/lookup-qr/:token"
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Flush keeps Server-Sent Events working through the instrumented writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
