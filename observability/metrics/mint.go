package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MintMetrics aggregates the prometheus collectors for the issuance engine.
type MintMetrics struct {
	operations   *prometheus.CounterVec
	liquidations prometheus.Counter
	synthSupply  prometheus.Gauge
	oracleErrors *prometheus.CounterVec
}

var (
	mintOnce     sync.Once
	mintRegistry *MintMetrics
)

// Mint returns the process-wide issuance metrics, registering the collectors
// on first use.
func Mint() *MintMetrics {
	mintOnce.Do(func() {
		mintRegistry = &MintMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mint_operations_total",
				Help: "Count of engine operations by name and result.",
			}, []string{"op", "result"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mint_liquidations_total",
				Help: "Count of successful liquidations.",
			}),
			synthSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "mint_synth_supply",
				Help: "Outstanding synthetic supply in base units.",
			}),
			oracleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mint_oracle_errors_total",
				Help: "Count of failed oracle reads by feed.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(
			mintRegistry.operations,
			mintRegistry.liquidations,
			mintRegistry.synthSupply,
			mintRegistry.oracleErrors,
		)
	})
	return mintRegistry
}

// ObserveOperation records one engine operation outcome.
func (m *MintMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	if op == "liquidate" && err == nil {
		m.liquidations.Inc()
	}
}

// SetSynthSupply records the current outstanding synthetic supply. Values
// beyond float64 precision are reported best-effort.
func (m *MintMetrics) SetSynthSupply(supply float64) {
	if m == nil {
		return
	}
	m.synthSupply.Set(supply)
}

// ObserveOracleError records a failed feed read.
func (m *MintMetrics) ObserveOracleError(feed string) {
	if m == nil {
		return
	}
	if feed == "" {
		feed = "unknown"
	}
	m.oracleErrors.WithLabelValues(feed).Inc()
}
