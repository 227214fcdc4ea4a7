package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type marketMetrics struct {
	operations    *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	utilization   *prometheus.GaugeVec
	totalBorrow   *prometheus.GaugeVec
	breakerActive *prometheus.GaugeVec
	pauseEngaged  prometheus.Gauge
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	marketMetricsOnce sync.Once
	marketRegistry    *marketMetrics
)

// Gateway returns the lazily-initialised registry used to record HTTP gateway
// activity.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmesh",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmesh",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendmesh",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmesh",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route.
func (m *gatewayMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Markets returns the registry tracking protocol-side market health.
func Markets() *marketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &marketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmesh",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by market, operation and outcome.",
			}, []string{"market", "operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmesh",
				Subsystem: "market",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations per market.",
			}, []string{"market"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendmesh",
				Subsystem: "market",
				Name:      "vault_utilization",
				Help:      "Vault utilization per market, WAD scaled to 0-1.",
			}, []string{"market"}),
			totalBorrow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendmesh",
				Subsystem: "market",
				Name:      "vault_total_borrow",
				Help:      "Outstanding vault borrows per market in base units.",
			}, []string{"market"}),
			breakerActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendmesh",
				Subsystem: "oracle",
				Name:      "breaker_active",
				Help:      "Whether the price deviation circuit breaker is engaged (1) per asset.",
			}, []string{"asset"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendmesh",
				Subsystem: "protocol",
				Name:      "pause_engaged",
				Help:      "Indicates whether the global pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.liquidations,
			marketRegistry.utilization,
			marketRegistry.totalBorrow,
			marketRegistry.breakerActive,
			marketRegistry.pauseEngaged,
		)
	})
	return marketRegistry
}

// RecordOperation counts a ledger operation and its outcome.
func (m *marketMetrics) RecordOperation(market, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(labelMarket(market), operation, outcome).Inc()
	if operation == "liquidate" && err == nil {
		m.liquidations.WithLabelValues(labelMarket(market)).Inc()
	}
}

// RecordVault updates the utilization and borrow gauges for a market.
// utilizationWad is the WAD-scaled ratio produced by the vault.
func (m *marketMetrics) RecordVault(market string, utilizationWad, totalBorrow *big.Int) {
	if m == nil {
		return
	}
	label := labelMarket(market)
	m.utilization.WithLabelValues(label).Set(bigToFloat(utilizationWad) / 1e6)
	m.totalBorrow.WithLabelValues(label).Set(bigToFloat(totalBorrow))
}

// SetBreaker toggles the circuit breaker gauge for an asset.
func (m *marketMetrics) SetBreaker(asset string, active bool) {
	if m == nil {
		return
	}
	value := 0.0
	if active {
		value = 1
	}
	m.breakerActive.WithLabelValues(strings.ToUpper(strings.TrimSpace(asset))).Set(value)
}

// SetPause toggles the pause_engaged gauge.
func (m *marketMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelMarket(market string) string {
	trimmed := strings.TrimSpace(market)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
