package broker

import "github.com/prometheus/client_golang/prometheus"

var (
	metricOrdersAttempted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "optbot_orders_attempted_total", Help: "Orders the bot tried to place"})
	metricOrdersPlaced     = prometheus.NewCounter(prometheus.CounterOpts{Name: "optbot_orders_placed_total", Help: "Orders accepted by the broker"})
	metricOrdersFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "optbot_orders_failed_total", Help: "Orders that failed after retries"})
	metricOrdersSuppressed = prometheus.NewCounter(prometheus.CounterOpts{Name: "optbot_orders_suppressed_total", Help: "Orders blocked by the breaker or duplicate window"})
	metricBreakerState     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "optbot_breaker_state", Help: "0=closed, 1=half_open, 2=open"})
	metricRetries          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "optbot_broker_retries_total", Help: "Broker calls retried after a transient error"}, []string{"op"})
	metricCallErrors       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "optbot_broker_errors_total", Help: "Broker calls that returned an error"}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		metricOrdersAttempted, metricOrdersPlaced, metricOrdersFailed,
		metricOrdersSuppressed, metricBreakerState, metricRetries, metricCallErrors,
	)
	metricBreakerState.Set(0)
}
