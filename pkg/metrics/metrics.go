package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestDuration tracks request latency by route and status
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// DatabaseConnectionsGauge tracks open database connections
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_database_connections",
		Help: "Open database connections",
	}, []string{"state"})

	// ChainScanHeight is the watcher watermark per chain
	ChainScanHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_chain_scan_height",
		Help: "Last fully scanned block height per chain",
	}, []string{"chain"})

	// ChainTipHeight is the node-reported tip per chain
	ChainTipHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_chain_tip_height",
		Help: "Node tip height per chain",
	}, []string{"chain"})

	// DepositsTotal counts deposits by chain and terminal status
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_deposits_total",
		Help: "Deposits by chain and status",
	}, []string{"chain", "status"})

	// WithdrawalsTotal counts withdrawal transitions by status
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_withdrawals_total",
		Help: "Withdrawal status transitions",
	}, []string{"chain", "status"})

	// LedgerEntriesTotal counts appended ledger entries by reason
	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_ledger_entries_total",
		Help: "Ledger entries appended by reason",
	}, []string{"reason"})

	// ConfirmationSweepDuration tracks confirmation tracker passes
	ConfirmationSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "custody_confirmation_sweep_duration_seconds",
		Help:    "Duration of confirmation tracker sweeps",
		Buckets: prometheus.DefBuckets,
	})

	// CircuitBreakerTrips counts breaker open transitions by name
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_circuit_breaker_trips_total",
		Help: "Circuit breaker open transitions",
	}, []string{"name"})
)

// Handler exposes the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
