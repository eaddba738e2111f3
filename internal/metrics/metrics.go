package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_sync_passes_total",
			Help: "Total number of Trello sync passes",
		},
		[]string{"mode", "result"},
	)

	syncPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadsync_sync_pass_duration_seconds",
			Help:    "Duration of Trello sync passes in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	syncCardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_sync_cards_total",
			Help: "Cards processed by sync passes, by outcome",
		},
		[]string{"outcome"},
	)

	syncLeadsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_leads_deleted_total",
			Help: "Leads deleted by sync, by reason",
		},
		[]string{"reason"},
	)

	trelloRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadsync_trello_rate_limited_total",
			Help: "Total number of rate-limit responses from Trello",
		},
	)

	trelloRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_trello_requests_total",
			Help: "Total number of Trello API requests",
		},
		[]string{"operation", "status"},
	)

	trelloCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadsync_trello_circuit_state",
			Help: "Trello circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadsync_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func RecordSyncPass(mode, result string, d time.Duration) {
	syncPassesTotal.WithLabelValues(mode, result).Inc()
	syncPassDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func RecordCard(outcome string) {
	syncCardsTotal.WithLabelValues(outcome).Inc()
}

func RecordSyncCounts(deleted, orphaned, rateLimited int) {
	syncLeadsDeletedTotal.WithLabelValues("card_removed").Add(float64(deleted))
	syncLeadsDeletedTotal.WithLabelValues("orphan").Add(float64(orphaned))
	trelloRateLimitedTotal.Add(float64(rateLimited))
}

func RecordTrelloRequest(operation string, status int) {
	trelloRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}

func SetCircuitState(state int) {
	trelloCircuitState.Set(float64(state))
}

func SetWebsocketClients(n int) {
	wsClients.Set(float64(n))
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack is needed by websocket upgrades on /ws/leads
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request counts and latency labelled by chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
