package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the live pipeline.
type Metrics struct {
	RegimeChanges  *prometheus.CounterVec
	StabilityScore prometheus.Gauge
	Oscillating    prometheus.Gauge
	ActiveRegimes  prometheus.Gauge
	ReloadTotal    prometheus.Counter
	ReloadFailures prometheus.Counter
	RoutedSets     *prometheus.CounterVec
}

// NewMetrics builds and registers the instruments on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegimeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regimeflow",
			Name:      "regime_changes_total",
			Help:      "Regime transitions observed, labelled by destination regime.",
		}, []string{"to_regime"}),
		StabilityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "regimeflow",
			Name:      "regime_stability_score",
			Help:      "Current regime stability score in [0,1].",
		}),
		Oscillating: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "regimeflow",
			Name:      "regime_oscillating",
			Help:      "1 when the detector is oscillating between regimes, else 0.",
		}),
		ActiveRegimes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "regimeflow",
			Name:      "active_regimes",
			Help:      "Number of regimes currently matching.",
		}),
		ReloadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "regimeflow",
			Name:      "config_reloads_total",
			Help:      "Successful strategy document reloads.",
		}),
		ReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "regimeflow",
			Name:      "config_reload_failures_total",
			Help:      "Strategy document reloads rejected by validation or parse errors.",
		}),
		RoutedSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regimeflow",
			Name:      "routed_strategy_sets_total",
			Help:      "Routing decisions, labelled by selected strategy set.",
		}, []string{"set"}),
	}

	reg.MustRegister(
		m.RegimeChanges,
		m.StabilityScore,
		m.Oscillating,
		m.ActiveRegimes,
		m.ReloadTotal,
		m.ReloadFailures,
		m.RoutedSets,
	)
	return m
}
