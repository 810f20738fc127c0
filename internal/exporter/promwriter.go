package exporter

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromWriter реализует metricstore.GaugeWriter поверх prometheus-регистри.
// GaugeVec на имя метрики создается лениво; порядок лейблов фиксируется
// при первом SetGauge и дальше не меняется.
type PromWriter struct {
	reg prometheus.Registerer

	mu   sync.Mutex
	vecs map[string]*gaugeEntry
}

type gaugeEntry struct {
	vec  *prometheus.GaugeVec
	keys []string // Отсортированные ключи лейблов
}

func NewPromWriter(reg prometheus.Registerer) *PromWriter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &PromWriter{
		reg:  reg,
		vecs: make(map[string]*gaugeEntry),
	}
}

func (w *PromWriter) SetGauge(name string, labels map[string]string, value float64) {
	entry := w.entryFor(name, labels)
	entry.vec.WithLabelValues(valuesFor(entry.keys, labels)...).Set(value)
}

func (w *PromWriter) RemoveGauge(name string, labels map[string]string) {
	w.mu.Lock()
	entry, ok := w.vecs[name]
	w.mu.Unlock()
	if !ok {
		return
	}
	entry.vec.DeleteLabelValues(valuesFor(entry.keys, labels)...)
}

func (w *PromWriter) entryFor(name string, labels map[string]string) *gaugeEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.vecs[name]; ok {
		return entry
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: "Exported SLO threshold gauge.",
	}, keys)
	w.reg.MustRegister(vec)

	entry := &gaugeEntry{vec: vec, keys: keys}
	w.vecs[name] = entry
	return entry
}

func valuesFor(keys []string, labels map[string]string) []string {
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = labels[k]
	}
	return vals
}
