// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"math/big"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	EventsCommitted   *prometheus.CounterVec
	PrizesAwarded     prometheus.Counter
	PayoutFailures    prometheus.Counter
	ReentrantCalls    prometheus.Counter

	// Ledger state gauges, in whole units
	TotalSupply    prometheus.Gauge
	TotalBurned    prometheus.Gauge
	TotalSwapped   prometheus.Gauge
	TokenPrizePool prometheus.Gauge
	ReserveBalance prometheus.Gauge
	TotalTransfers prometheus.Gauge

	// Recorder metrics
	RecorderPending   *prometheus.GaugeVec
	RecorderFlushes   *prometheus.CounterVec
	RecorderDropped   *prometheus.CounterVec
	StreamClients     prometheus.Gauge
	StreamDropped     prometheus.Counter
	StreamMissed      prometheus.Counter
	RateLimitRejected prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSnapshot  prometheus.Gauge
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "prize_ledger"
	}

	return &Metrics{
		// Ledger operation metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by result",
		}, []string{"operation", "result"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, lock wait included",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"operation"}),
		EventsCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_committed_total",
			Help:      "Total number of committed ledger events by kind",
		}, []string{"kind"}),
		PrizesAwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lottery",
			Name:      "prizes_awarded_total",
			Help:      "Total number of lottery prizes awarded",
		}),
		PayoutFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lottery",
			Name:      "payout_failures_total",
			Help:      "Total number of failed reserve prize sends",
		}),
		ReentrantCalls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reentrant_calls_total",
			Help:      "Total number of rejected reentrant calls",
		}),

		// Ledger state gauges
		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply_units",
			Help:      "Circulating supply in whole ledger units",
		}),
		TotalBurned: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_burned_units",
			Help:      "Burned supply in whole ledger units",
		}),
		TotalSwapped: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "total_swapped_units",
			Help:      "Ledger units handed out by swaps, in whole units",
		}),
		TokenPrizePool: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lottery",
			Name:      "token_prize_pool_units",
			Help:      "Ledger-unit prize pool in whole units",
		}),
		ReserveBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "reserve_balance_units",
			Help:      "Reserve currency held by the system account, in whole units",
		}),
		TotalTransfers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_transfers",
			Help:      "Number of committed transfers",
		}),

		// Recorder metrics
		RecorderPending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "pending_events",
			Help:      "Events waiting to be written, by writer",
		}, []string{"writer"}),
		RecorderFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "flushes_total",
			Help:      "Total number of recorder flushes by writer and status",
		}, []string{"writer", "status"}),
		RecorderDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "dropped_events_total",
			Help:      "Events dropped because the writer queue was full",
		}, []string{"writer"}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected websocket clients",
		}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "slow_clients_dropped_total",
			Help:      "Websocket clients disconnected for falling behind",
		}),
		StreamMissed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "missed_events_total",
			Help:      "Events a stream client skipped because the hub no longer retained them",
		}),
		RateLimitRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSnapshot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_snapshot_timestamp",
			Help:      "Unix timestamp of the last saved snapshot",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records the outcome of one ledger operation.
// result is "ok" or the error kind label.
func RecordOperation(operation, result string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, result).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordEventCommitted increments the committed events counter for kind.
func RecordEventCommitted(kind string) {
	DefaultMetrics.EventsCommitted.WithLabelValues(kind).Inc()
}

// RecordPrizeAwarded increments the prizes awarded counter.
func RecordPrizeAwarded() {
	DefaultMetrics.PrizesAwarded.Inc()
}

// RecordPayoutFailure increments the failed payout counter.
func RecordPayoutFailure() {
	DefaultMetrics.PayoutFailures.Inc()
}

// RecordReentrantCall increments the rejected reentrant call counter.
func RecordReentrantCall() {
	DefaultMetrics.ReentrantCalls.Inc()
}

// LedgerState is the set of gauges refreshed after each commit.
type LedgerState struct {
	Decimals       uint8
	TotalSupply    *uint256.Int
	TotalBurned    *uint256.Int
	TotalSwapped   *uint256.Int
	TokenPrizePool *uint256.Int
	Reserve        *uint256.Int
	TotalTransfers uint64
}

// UpdateLedgerState sets the ledger state gauges.
func UpdateLedgerState(s LedgerState) {
	DefaultMetrics.TotalSupply.Set(WholeUnits(s.TotalSupply, s.Decimals))
	DefaultMetrics.TotalBurned.Set(WholeUnits(s.TotalBurned, s.Decimals))
	DefaultMetrics.TotalSwapped.Set(WholeUnits(s.TotalSwapped, s.Decimals))
	DefaultMetrics.TokenPrizePool.Set(WholeUnits(s.TokenPrizePool, s.Decimals))
	DefaultMetrics.ReserveBalance.Set(WholeUnits(s.Reserve, s.Decimals))
	DefaultMetrics.TotalTransfers.Set(float64(s.TotalTransfers))
}

// WholeUnits converts base units to a float of whole units. Precision loss is
// acceptable for gauges.
func WholeUnits(x *uint256.Int, decimals uint8) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x.ToBig())
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := f.Quo(f, scale).Float64()
	return out
}

// UpdateRecorderPending sets the pending queue gauge for writer.
func UpdateRecorderPending(writer string, n int) {
	DefaultMetrics.RecorderPending.WithLabelValues(writer).Set(float64(n))
}

// RecordRecorderFlush records a recorder flush for writer.
func RecordRecorderFlush(writer string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.RecorderFlushes.WithLabelValues(writer, status).Inc()
}

// RecordRecorderDropped adds n to the dropped events counter for writer.
func RecordRecorderDropped(writer string, n int) {
	DefaultMetrics.RecorderDropped.WithLabelValues(writer).Add(float64(n))
}

// UpdateStreamClients sets the connected websocket clients gauge.
func UpdateStreamClients(n int) {
	DefaultMetrics.StreamClients.Set(float64(n))
}

// RecordStreamDropped increments the dropped slow clients counter.
func RecordStreamDropped() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordStreamMissed counts events a stream client never received.
func RecordStreamMissed(n uint64) {
	DefaultMetrics.StreamMissed.Add(float64(n))
}

// RecordRateLimited increments the rate limited requests counter.
func RecordRateLimited() {
	DefaultMetrics.RateLimitRejected.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordSnapshotSaved sets the last snapshot timestamp gauge.
func RecordSnapshotSaved(unixSeconds int64) {
	DefaultMetrics.LastSnapshot.Set(float64(unixSeconds))
}
