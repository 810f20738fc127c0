package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — собственные метрики control plane (не путать с экспортом
// SLO-порогов агентов, см. пакет exporter).
type Metrics struct {
	// Длительность цикла опроса флота
	HealthCycleDuration prometheus.Histogram

	// Исходы проб по агентам
	ProbesTotal *prometheus.CounterVec

	// Решения сидера по типам действий
	SeederDecisions *prometheus.CounterVec

	// Итоги burn-rate оценки по severity
	BurnEvaluations *prometheus.CounterVec

	// Заполненность буфера диспетчера алертов (backpressure)
	AlertBufferFill prometheus.Gauge

	// Счетчики флота из последнего цикла
	FleetHealthy prometheus.Gauge
	FleetTotal   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		HealthCycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetobs_health_cycle_duration_seconds",
			Help:    "Histogram of full fleet probe cycle durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		ProbesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetobs_probes_total",
			Help: "Total number of health probes by outcome.",
		}, []string{"agent", "outcome"}), // outcome: ok, failed

		SeederDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetobs_seeder_decisions_total",
			Help: "Total number of seeder decisions by action.",
		}, []string{"action"}),

		BurnEvaluations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetobs_burn_evaluations_total",
			Help: "Total number of burn-rate evaluations by severity.",
		}, []string{"severity"}),

		AlertBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "fleetobs_alert_buffer_utilization",
			Help: "Current number of events in alert dispatcher buffer.",
		}),

		FleetHealthy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "fleetobs_fleet_healthy_agents",
			Help: "Healthy agents in the latest probe cycle.",
		}),

		FleetTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "fleetobs_fleet_total_agents",
			Help: "Probed agents in the latest probe cycle.",
		}),
	}
}
