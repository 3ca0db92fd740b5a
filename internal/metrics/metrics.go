// Package metrics provides Prometheus instrumentation for the exchange
// engine service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts accepted order fills, partitioned by the side
	// of the resting order.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of accepted order fills",
	}, []string{"side"})

	// OrdersTotal counts resting orders created, by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of resting orders created",
	}, []string{"side"})

	// OrdersCancelled counts cancelled orders.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	// PresalePurchases counts presale subscription purchases.
	PresalePurchases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_presale_purchases_total",
		Help: "Total number of presale purchases",
	})

	// ActiveExchanges tracks the number of registered exchange instances.
	ActiveExchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_instances",
		Help: "Number of registered exchange instances",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// TradeVolume tracks cumulative accepted share volume per exchange.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trade_volume_total",
		Help: "Cumulative accepted trade volume in shares",
	}, []string{"symbol", "side"})
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

		// Use the raw path for the label; route cardinality is bounded
		// by the number of registered symbols.
		path := r.URL.Path
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
