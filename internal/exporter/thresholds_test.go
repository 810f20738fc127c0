package exporter

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
)

func agentFixture(name string, disabled bool) domain.AgentDescriptor {
	return domain.AgentDescriptor{
		Name:                      name,
		Category:                  "core",
		Endpoint:                  name + ":8080",
		LatencyP95WarningSeconds:  0.5,
		LatencyP95CriticalSeconds: 2.0,
		ErrorBudgetFraction:       0.01,
		Disabled:                  disabled,
	}
}

func TestExportPublishesThresholdGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(NewPromWriter(reg), zap.NewNop())

	e.Export(&domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{
		agentFixture("alpha", false),
	}})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)

	// Точность значений — жесткий инвариант: на них считается burn rate
	byName := map[string]float64{}
	for _, fam := range families {
		byName[fam.GetName()] = fam.GetMetric()[0].GetGauge().GetValue()
	}
	assert.InDelta(t, 0.5, byName[GaugeLatencyWarning], 1e-9)
	assert.InDelta(t, 2.0, byName[GaugeLatencyCritical], 1e-9)
	assert.InDelta(t, 0.01, byName[GaugeErrorBudget], 1e-9)
}

func TestExportIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(NewPromWriter(reg), zap.NewNop())

	snap := &domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{
		agentFixture("alpha", false),
		agentFixture("beta", false),
	}}

	e.Export(snap)
	e.Export(snap)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		assert.Len(t, fam.GetMetric(), 2, "повторный экспорт не должен плодить серии")
	}
}

func TestExportRemovesDisabledAgents(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(NewPromWriter(reg), zap.NewNop())

	e.Export(&domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{
		agentFixture("alpha", false),
		agentFixture("beta", false),
	}})

	// beta выключается между перезагрузками реестра
	e.Export(&domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{
		agentFixture("alpha", false),
		agentFixture("beta", true),
	}})

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		require.Len(t, fam.GetMetric(), 1, "gauges of disabled agent must be removed")
		assert.Equal(t, "alpha", labelValue(fam.GetMetric()[0], "agent"))
	}

	// Обратное включение восстанавливает идентичное поведение
	e.Export(&domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{
		agentFixture("alpha", false),
		agentFixture("beta", false),
	}})
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		assert.Len(t, fam.GetMetric(), 2, "re-enable restores gauges")
	}
}

func TestExportReplacesSeriesOnCategoryChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(NewPromWriter(reg), zap.NewNop())

	a := agentFixture("alpha", false)
	e.Export(&domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{a}})

	// Агент переезжает в другую категорию между перезагрузками реестра
	a.Category = "experimental"
	e.Export(&domain.RegistrySnapshot{Agents: []domain.AgentDescriptor{a}})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)
	for _, fam := range families {
		require.Len(t, fam.GetMetric(), 1, "old category series must be removed, not left beside the new one")
		assert.Equal(t, "experimental", labelValue(fam.GetMetric()[0], "category"))
		assert.Equal(t, "alpha", labelValue(fam.GetMetric()[0], "agent"))
	}
}

func labelValue(m *dto.Metric, key string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == key {
			return lp.GetValue()
		}
	}
	return ""
}
