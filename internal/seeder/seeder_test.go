package seeder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/metricstore"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

// stubQuerier — заглушка metrics store: rps по имени агента из выражения.
type stubQuerier struct {
	rates map[string]float64
	errs  map[string]error
}

func (s *stubQuerier) QueryInstant(_ context.Context, expr string) (float64, error) {
	for name, err := range s.errs {
		if strings.Contains(expr, name) {
			return 0, err
		}
	}
	for name, v := range s.rates {
		if strings.Contains(expr, name) {
			return v, nil
		}
	}
	return 0, metricstore.ErrNoData
}

func (s *stubQuerier) QueryRange(context.Context, string, time.Duration) ([]metricstore.Point, error) {
	return nil, metricstore.ErrNoData
}

func snapshot(names ...string) *domain.RegistrySnapshot {
	snap := &domain.RegistrySnapshot{}
	for _, n := range names {
		disabled := false
		if strings.HasSuffix(n, "!") {
			disabled = true
			n = strings.TrimSuffix(n, "!")
		}
		snap.Agents = append(snap.Agents, domain.AgentDescriptor{
			Name:                      n,
			Endpoint:                  "127.0.0.1:1",
			HealthPath:                "/health",
			LatencyP95WarningSeconds:  0.5,
			LatencyP95CriticalSeconds: 1.0,
			ErrorBudgetFraction:       0.01,
			Disabled:                  disabled,
		})
	}
	return snap
}

func newSeeder(q metricstore.Querier, opts Options) *Seeder {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = time.Second
	}
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 100
	}
	return New(q, opts, telemetry.NewMetrics(nil), zap.NewNop())
}

func decisionFor(t *testing.T, decisions []domain.SeederDecision, name string) domain.SeederDecision {
	t.Helper()
	for _, d := range decisions {
		if d.AgentName == name {
			return d
		}
	}
	t.Fatalf("no decision for %s", name)
	return domain.SeederDecision{}
}

func TestThresholdBoundary(t *testing.T) {
	q := &stubQuerier{rates: map[string]float64{"low": 0.05, "busy": 0.2}}
	s := newSeeder(q, Options{RpsThreshold: 0.1, MaxAgentsPerCycle: 10, DryRun: true})

	decisions := s.RunCycle(context.Background(), snapshot("low", "busy"))
	require.Len(t, decisions, 2)

	low := decisionFor(t, decisions, "low")
	assert.Equal(t, domain.ActionStimulate, low.Action)
	assert.InDelta(t, 0.05, low.OrganicRps, 1e-9)

	busy := decisionFor(t, decisions, "busy")
	assert.Equal(t, domain.ActionSkipSufficientTraffic, busy.Action)
	assert.InDelta(t, 0.2, busy.OrganicRps, 1e-9)
}

func TestCapStableOrdering(t *testing.T) {
	q := &stubQuerier{} // Все без данных -> все кандидаты на стимуляцию
	s := newSeeder(q, Options{RpsThreshold: 0.1, MaxAgentsPerCycle: 2, DryRun: true})

	snap := snapshot("a", "b", "c")

	// Повторные циклы режутся по cap одинаково: порядок реестра стабилен
	for i := 0; i < 3; i++ {
		decisions := s.RunCycle(context.Background(), snap)
		assert.Equal(t, domain.ActionStimulate, decisionFor(t, decisions, "a").Action)
		assert.Equal(t, domain.ActionStimulate, decisionFor(t, decisions, "b").Action)
		assert.Equal(t, domain.ActionSkipCapReached, decisionFor(t, decisions, "c").Action)
	}
}

func TestDisabledSkipped(t *testing.T) {
	q := &stubQuerier{}
	s := newSeeder(q, Options{RpsThreshold: 0.1, MaxAgentsPerCycle: 10, DryRun: true})

	decisions := s.RunCycle(context.Background(), snapshot("on", "off!"))
	assert.Equal(t, domain.ActionSkipDisabled, decisionFor(t, decisions, "off").Action)
	assert.Equal(t, domain.ActionStimulate, decisionFor(t, decisions, "on").Action)
}

func TestMetricsOutageFailsTowardCoverage(t *testing.T) {
	q := &stubQuerier{errs: map[string]error{"blind": errors.New("store down")}}
	s := newSeeder(q, Options{RpsThreshold: 0.1, MaxAgentsPerCycle: 10, DryRun: true})

	decisions := s.RunCycle(context.Background(), snapshot("blind"))
	d := decisionFor(t, decisions, "blind")
	assert.Equal(t, domain.ActionStimulate, d.Action)
	assert.Zero(t, d.OrganicRps)
}

func TestDryRunMatchesLiveDecisions(t *testing.T) {
	q := &stubQuerier{rates: map[string]float64{"busy": 0.5}}
	snap := snapshot("a", "b", "c", "busy")
	opts := Options{RpsThreshold: 0.1, MaxAgentsPerCycle: 2}

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	for i := range snap.Agents {
		snap.Agents[i].Endpoint = strings.TrimPrefix(srv.URL, "http://")
	}

	dry := newSeeder(q, Options{RpsThreshold: opts.RpsThreshold, MaxAgentsPerCycle: opts.MaxAgentsPerCycle, DryRun: true})
	dryDecisions := dry.RunCycle(context.Background(), snap)
	assert.Zero(t, atomic.LoadInt32(&hits), "dry run must not touch the network")

	live := newSeeder(q, Options{RpsThreshold: opts.RpsThreshold, MaxAgentsPerCycle: opts.MaxAgentsPerCycle})
	liveDecisions := live.RunCycle(context.Background(), snap)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "live run stimulates exactly capped set")

	// Одинаковые входы -> одинаковая последовательность решений,
	// отличается только флаг dry_run
	require.Equal(t, len(dryDecisions), len(liveDecisions))
	for i := range dryDecisions {
		assert.Equal(t, dryDecisions[i].AgentName, liveDecisions[i].AgentName)
		assert.Equal(t, dryDecisions[i].Action, liveDecisions[i].Action)
		assert.Equal(t, dryDecisions[i].OrganicRps, liveDecisions[i].OrganicRps)
	}
}

func TestStimulationFailureDoesNotAffectDecisions(t *testing.T) {
	q := &stubQuerier{}
	// Эндпоинт мертв: connect refused на 127.0.0.1:1
	s := newSeeder(q, Options{RpsThreshold: 0.1, MaxAgentsPerCycle: 10, RequestTimeout: 100 * time.Millisecond})

	decisions := s.RunCycle(context.Background(), snapshot("dead"))
	assert.Equal(t, domain.ActionStimulate, decisionFor(t, decisions, "dead").Action)
}
