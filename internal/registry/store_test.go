package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validSource = `
agents:
  - name: billing-bot
    display_name: Billing Bot
    category: finance
    endpoint: billing:8080
    latency_p95_warning_seconds: 0.5
    latency_p95_critical_seconds: 2.0
    error_budget_fraction: 0.01
  - name: crm-sync
    endpoint: crm:9000
    health_path: /healthz
    latency_p95_warning_seconds: 1.0
    latency_p95_critical_seconds: 3.0
    error_budget_fraction: 0.05
    disabled: true
`

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidSource(t *testing.T) {
	store := NewStore(writeSource(t, validSource), zap.NewNop())

	snap, err := store.Load()
	require.NoError(t, err)
	require.Len(t, snap.Agents, 2)

	// Current возвращает тот же снапшот, что вернул Load
	assert.Equal(t, snap, store.Current())
	assert.NotEmpty(t, snap.Fingerprint)

	// Дефолтный health path проставлен
	a, ok := snap.Lookup("billing-bot")
	require.True(t, ok)
	assert.Equal(t, "/health", a.HealthPath)
	assert.Equal(t, "http://billing:8080/health", a.HealthURL())

	// disabled-агент в снапшоте есть, но в Enabled не попадает
	enabled := snap.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "billing-bot", enabled[0].Name)
}

func TestLoadDropsInvalidEntries(t *testing.T) {
	source := `
agents:
  - name: good
    endpoint: good:8080
    latency_p95_warning_seconds: 0.5
    latency_p95_critical_seconds: 1.0
    error_budget_fraction: 0.01
  - name: inverted-thresholds
    endpoint: bad:8080
    latency_p95_warning_seconds: 2.0
    latency_p95_critical_seconds: 1.0
    error_budget_fraction: 0.01
  - name: ""
    endpoint: anon:8080
    latency_p95_warning_seconds: 0.5
    latency_p95_critical_seconds: 1.0
    error_budget_fraction: 0.01
  - name: budget-overflow
    endpoint: b:8080
    latency_p95_warning_seconds: 0.5
    latency_p95_critical_seconds: 1.0
    error_budget_fraction: 1.5
  - name: good
    endpoint: dup:8080
    latency_p95_warning_seconds: 0.5
    latency_p95_critical_seconds: 1.0
    error_budget_fraction: 0.01
`
	store := NewStore(writeSource(t, source), zap.NewNop())

	snap, err := store.Load()
	require.NoError(t, err)

	// Выжила только первая валидная запись; дубликат отброшен, первый выиграл
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "good", snap.Agents[0].Name)
	assert.Equal(t, "good:8080", snap.Agents[0].Endpoint)
}

func TestLoadUniqueNamesAndMonotonicThresholds(t *testing.T) {
	store := NewStore(writeSource(t, validSource), zap.NewNop())
	snap, err := store.Load()
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, a := range snap.Agents {
		assert.False(t, seen[a.Name], "duplicate name %s", a.Name)
		seen[a.Name] = true
		assert.LessOrEqual(t, a.LatencyP95WarningSeconds, a.LatencyP95CriticalSeconds)
	}
}

func TestLoadUnreadableSource(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())

	_, err := store.Load()
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Nil(t, store.Current())
}

func TestLoadMalformedSource(t *testing.T) {
	store := NewStore(writeSource(t, "agents: {not: [a, list"), zap.NewNop())

	_, err := store.Load()
	var regErr *RegistryError
	assert.ErrorAs(t, err, &regErr)
}

func TestWatchPublishesOnChange(t *testing.T) {
	path := writeSource(t, validSource)
	store := NewStore(path, zap.NewNop())
	_, err := store.Load()
	require.NoError(t, err)

	sub := store.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Watch(ctx, 20*time.Millisecond)

	// Меняем файл: агент выключается. mtime меняется вместе с содержимым.
	toggled := `
agents:
  - name: billing-bot
    endpoint: billing:8080
    latency_p95_warning_seconds: 0.5
    latency_p95_critical_seconds: 2.0
    error_budget_fraction: 0.01
    disabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(toggled), 0o644))

	select {
	case snap := <-sub:
		require.Len(t, snap.Enabled(), 0)
		a, ok := snap.Lookup("billing-bot")
		require.True(t, ok)
		assert.True(t, a.Disabled)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published after source change")
	}
}

func TestWatchSkipsUnchangedSource(t *testing.T) {
	path := writeSource(t, validSource)
	store := NewStore(path, zap.NewNop())
	snap, err := store.Load()
	require.NoError(t, err)

	sub := store.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Watch(ctx, 20*time.Millisecond)

	// Несколько тиков без изменения файла
	time.Sleep(150 * time.Millisecond)

	select {
	case <-sub:
		t.Fatal("snapshot republished without source change")
	default:
	}
	// Тот же указатель: fingerprint не менялся, файл не перепарсивался
	assert.Same(t, snap, store.Current())
}

func TestWatchKeepsPreviousSnapshotOnFailure(t *testing.T) {
	path := writeSource(t, validSource)
	store := NewStore(path, zap.NewNop())
	snap, err := store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Watch(ctx, 20*time.Millisecond)

	// Ломаем источник: YAML больше не парсится
	require.NoError(t, os.WriteFile(path, []byte("agents: {broken"), 0o644))
	time.Sleep(150 * time.Millisecond)

	// Прежний снапшот остался действующим
	assert.Equal(t, snap.Fingerprint, store.Current().Fingerprint)
	assert.Len(t, store.Current().Agents, 2)
}

func TestRegistryErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &RegistryError{Source: "x.yaml", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "x.yaml")
}
