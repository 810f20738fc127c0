package exporter

import (
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/metricstore"
)

// Имена экспортируемых гейджей. На них опираются правила burn-rate
// алертинга снаружи, менять без миграции правил нельзя.
const (
	GaugeLatencyWarning  = "agent_slo_latency_warning_seconds"
	GaugeLatencyCritical = "agent_slo_latency_critical_seconds"
	GaugeErrorBudget     = "agent_slo_error_budget_fraction"
)

// Exporter публикует SLO-пороги каждого активного агента как гейджи.
// Гейджи выключенных или исчезнувших агентов снимаются, не оставляя
// протухших значений, — иначе внешние правила алертят по призракам.
type Exporter struct {
	writer metricstore.GaugeWriter
	logger *zap.Logger

	// Что экспортировано сейчас: agent name -> лейблы серии (нужны для снятия)
	exported map[string]map[string]string
}

func New(writer metricstore.GaugeWriter, logger *zap.Logger) *Exporter {
	return &Exporter{
		writer:   writer,
		logger:   logger.With(zap.String("mod", "exporter")),
		exported: make(map[string]map[string]string),
	}
}

// Export отражает снапшот реестра наружу. Идемпотентен: повторный вызов
// с тем же снапшотом публикует те же значения без накопления.
func (e *Exporter) Export(snap *domain.RegistrySnapshot) {
	if snap == nil {
		return
	}

	next := make(map[string]map[string]string)
	for _, a := range snap.Enabled() {
		next[a.Name] = map[string]string{"agent": a.Name, "category": a.Category}
	}

	// Сначала снимаем серии всех, кто выпал из активного набора или сменил
	// лейблы: иначе смена category оставила бы старую серию висеть рядом с новой.
	for name, old := range e.exported {
		cur, still := next[name]
		if still && labelsEqual(old, cur) {
			continue
		}
		e.removeGauges(old)
		if !still {
			e.logger.Info("threshold gauges removed", zap.String("agent", name))
		}
	}

	for _, a := range snap.Enabled() {
		labels := next[a.Name]
		e.writer.SetGauge(GaugeLatencyWarning, labels, a.LatencyP95WarningSeconds)
		e.writer.SetGauge(GaugeLatencyCritical, labels, a.LatencyP95CriticalSeconds)
		e.writer.SetGauge(GaugeErrorBudget, labels, a.ErrorBudgetFraction)
	}

	e.exported = next
	e.logger.Debug("thresholds exported", zap.Int("agents", len(next)))
}

func (e *Exporter) removeGauges(labels map[string]string) {
	e.writer.RemoveGauge(GaugeLatencyWarning, labels)
	e.writer.RemoveGauge(GaugeLatencyCritical, labels)
	e.writer.RemoveGauge(GaugeErrorBudget, labels)
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
