// Package metrics provides Prometheus instrumentation for the picks engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersPlaced counts accepted wagers, partitioned by kind.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picks_wagers_placed_total",
		Help: "Total number of accepted wagers",
	}, []string{"kind"})

	// WagerRejections counts rejected wagers by rejection reason.
	WagerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picks_wager_rejections_total",
		Help: "Wagers rejected by the validator",
	}, []string{"reason"})

	// CoinsWagered tracks the cumulative coins staked, by kind.
	CoinsWagered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picks_coins_wagered_total",
		Help: "Cumulative coins staked on accepted wagers",
	}, []string{"kind"})

	// QuestionsGraded counts grading actions that ran settlement.
	QuestionsGraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picks_questions_graded_total",
		Help: "Questions graded (settlement runs)",
	})

	// Settlements counts settled wagers by kind and outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picks_settlements_total",
		Help: "Settled picks and parlays by outcome",
	}, []string{"kind", "outcome"})

	// CoinsPaidOut tracks cumulative coins credited by settlement.
	CoinsPaidOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picks_coins_paid_out_total",
		Help: "Cumulative coins credited by settlement",
	})

	// SettlementErrors counts per-wager settlement failures.
	SettlementErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picks_settlement_errors_total",
		Help: "Settlement failures needing manual reconciliation",
	})

	// OpenQuestions tracks the number of questions still open.
	OpenQuestions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "picks_open_questions",
		Help: "Number of questions currently open",
	})

	// OverdueQuestions tracks open questions past their close time.
	OverdueQuestions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "picks_overdue_questions",
		Help: "Open questions past closes_at awaiting grading",
	})

	// WebSocketClients tracks connected feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "picks_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picks_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "picks_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label with the chi route pattern, not the raw URL: per-user
		// paths would otherwise produce one label value per user ID.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
