package session

import "github.com/prometheus/client_golang/prometheus"

var (
	metricCycles            = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "optbot_cycles_total", Help: "Trading cycles by outcome"}, []string{"result"})
	metricSignals           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "optbot_signals_total", Help: "Entry rule evaluations by side"}, []string{"side"})
	metricRiskDenials       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "optbot_risk_denials_total", Help: "Entries refused by the risk gate"}, []string{"reason"})
	metricTradesToday       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "optbot_risk_trades_today", Help: "Entries executed in the current trading day"})
	metricConsecutiveLosses = prometheus.NewGauge(prometheus.GaugeOpts{Name: "optbot_risk_consecutive_losses", Help: "Current losing streak"})
	metricDailyPnL          = prometheus.NewGauge(prometheus.GaugeOpts{Name: "optbot_risk_daily_pnl", Help: "Realised P/L for the current trading day"})
	metricHalted            = prometheus.NewGauge(prometheus.GaugeOpts{Name: "optbot_risk_halted", Help: "1 while trading is halted"})
	metricPositionOpen      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "optbot_position_open", Help: "1 while a position is open"})
)

func init() {
	prometheus.MustRegister(
		metricCycles, metricSignals, metricRiskDenials,
		metricTradesToday, metricConsecutiveLosses, metricDailyPnL, metricHalted, metricPositionOpen,
	)
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
