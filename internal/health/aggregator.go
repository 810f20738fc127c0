package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

// ErrNoSnapshot — реестр еще ни разу не загружался; единственная
// жесткая ошибка цикла. Отказы проб в HealthResult, не сюда.
var ErrNoSnapshot = errors.New("health: no registry snapshot available")

// Aggregator параллельно опрашивает health-эндпоинты всех активных агентов
// и собирает статус флота. Цикл ограничен таймаутом одной пробы, а не их суммой:
// зависший агент деградирует только свой слот результата.
type Aggregator struct {
	client       *http.Client
	probeTimeout time.Duration
	logger       *zap.Logger
	metrics      *telemetry.Metrics

	latest atomic.Pointer[domain.FleetStatus]
}

func NewAggregator(probeTimeout time.Duration, metrics *telemetry.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		// Общий клиент без Timeout: срок жизни каждой пробы задает ее контекст
		client:       &http.Client{},
		probeTimeout: probeTimeout,
		logger:       logger.With(zap.String("mod", "health")),
		metrics:      metrics,
	}
}

// RunCycle выполняет один цикл опроса по снапшоту реестра.
// Пробы уходят конкурентно (по горутине на агента), join через WaitGroup;
// каждая пишет в свой заранее выделенный слот — мьютекс в hot path не нужен.
func (ag *Aggregator) RunCycle(ctx context.Context, snap *domain.RegistrySnapshot) (*domain.FleetStatus, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}

	start := time.Now()
	agents := snap.Enabled()
	results := make([]domain.HealthResult, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(slot int, agent domain.AgentDescriptor) {
			defer wg.Done()
			results[slot] = ag.probe(ctx, agent)
		}(i, a)
	}
	wg.Wait()

	status := &domain.FleetStatus{
		Results:     make(map[string]domain.HealthResult, len(results)),
		CompletedAt: time.Now(),
	}
	for _, r := range results {
		status.Results[r.AgentName] = r

		outcome := "ok"
		if !r.OK {
			outcome = "failed"
		}
		ag.metrics.ProbesTotal.WithLabelValues(r.AgentName, outcome).Inc()
	}

	// Публикация агрегата — одним свопом, после полного завершения цикла
	ag.latest.Store(status)

	ag.metrics.HealthCycleDuration.Observe(time.Since(start).Seconds())
	ag.metrics.FleetHealthy.Set(float64(status.HealthyCount()))
	ag.metrics.FleetTotal.Set(float64(status.TotalCount()))

	ag.logger.Debug("fleet probe cycle completed",
		zap.Int("healthy", status.HealthyCount()),
		zap.Int("total", status.TotalCount()),
		zap.Duration("took", time.Since(start)),
	)
	return status, nil
}

// probe — одна проба. Любой отказ (таймаут, connect refused, не-2xx)
// превращается в unhealthy-результат, наружу ошибка не уходит.
func (ag *Aggregator) probe(ctx context.Context, agent domain.AgentDescriptor) domain.HealthResult {
	result := domain.HealthResult{
		AgentName:  agent.Name,
		ObservedAt: time.Now(),
	}

	pCtx, cancel := context.WithTimeout(ctx, ag.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pCtx, http.MethodGet, agent.HealthURL(), nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := ag.client.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.OK = true
	} else {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result
}

// Fleet возвращает агрегат последнего завершенного цикла (nil до первого).
func (ag *Aggregator) Fleet() *domain.FleetStatus {
	return ag.latest.Load()
}

// Status — lookup по последнему циклу. false означает "агент покинул реестр",
// это не то же самое, что unhealthy.
func (ag *Aggregator) Status(agentName string) (domain.HealthResult, bool) {
	fleet := ag.latest.Load()
	if fleet == nil {
		return domain.HealthResult{}, false
	}
	r, ok := fleet.Results[agentName]
	return r, ok
}

// Run гоняет циклы по тикеру до отмены контекста. Циклы строго
// последовательны: N+1 не стартует до публикации агрегата N.
func (ag *Aggregator) Run(ctx context.Context, interval time.Duration, current func() *domain.RegistrySnapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ag.logger.Info("health aggregation started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			ag.logger.Info("health aggregation stopping by context...")
			return
		case <-ticker.C:
			if _, err := ag.RunCycle(ctx, current()); err != nil {
				ag.logger.Error("probe cycle skipped", zap.Error(err))
			}
		}
	}
}
