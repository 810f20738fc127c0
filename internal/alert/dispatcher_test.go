package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/evaluator"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

type fakeRepo struct {
	mu      sync.Mutex
	batches [][]Event
}

func (r *fakeRepo) WriteBatch(_ context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Event, len(events))
	copy(cp, events)
	r.batches = append(r.batches, cp)
	return nil
}

func (r *fakeRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func newDispatcher(repo StorageInterface) *Dispatcher {
	return NewDispatcher(repo, nil, telemetry.NewMetrics(nil), zap.NewNop())
}

func TestDispatcherFlushesOnStop(t *testing.T) {
	repo := &fakeRepo{}
	d := newDispatcher(repo)
	d.Start()

	d.LogBurn(domain.BurnEvaluation{
		AgentName:   "svc",
		Severity:    domain.SeverityCritical,
		WindowShort: 5 * time.Minute,
		WindowLong:  time.Hour,
		BurnRatio:   16,
	})
	d.LogLatency(evaluator.LatencyEvaluation{
		AgentName:  "svc",
		Severity:   domain.SeverityWarning,
		P95Seconds: 1.2,
		Threshold:  0.5,
	})

	// Drain: Stop обязан дописать всё, что лежит в буфере
	d.Stop()
	require.Equal(t, 2, repo.total())

	first := repo.batches[0][0]
	assert.Equal(t, KindBurn, first.Kind)
	assert.Equal(t, "svc", first.AgentName)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())
}

func TestDispatcherBatchesBySize(t *testing.T) {
	repo := &fakeRepo{}
	d := newDispatcher(repo)
	d.Start()

	for i := 0; i < 150; i++ {
		d.LogBurn(domain.BurnEvaluation{AgentName: "svc", Severity: domain.SeverityWarning})
	}
	d.Stop()

	require.Equal(t, 150, repo.total())
	// Первая пачка — полные 100 по лимиту размера
	assert.Len(t, repo.batches[0], 100)
}

func TestDispatcherStopConcurrentWithLogging(t *testing.T) {
	repo := &fakeRepo{}
	d := newDispatcher(repo)
	d.Start()

	// Остановка на фоне активной записи: события либо доезжают, либо
	// отбрасываются с логом, но паники на закрытом канале быть не должно
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d.LogBurn(domain.BurnEvaluation{AgentName: "svc", Severity: domain.SeverityWarning})
			}
		}()
	}

	d.Stop()
	wg.Wait()

	assert.LessOrEqual(t, repo.total(), 1600)
}

func TestDispatcherDropsAfterStop(t *testing.T) {
	repo := &fakeRepo{}
	d := newDispatcher(repo)
	d.Start()
	d.Stop()

	// После остановки события отбрасываются, паники нет
	d.LogBurn(domain.BurnEvaluation{AgentName: "late", Severity: domain.SeverityCritical})
	assert.Equal(t, 0, repo.total())
}
