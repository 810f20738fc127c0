package seeder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/metricstore"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

// Options — пороги и лимиты адаптивного сидера.
type Options struct {
	RpsThreshold      float64       // Органический rps, выше которого агент не трогаем
	MaxAgentsPerCycle int           // Страховочный cap на цикл
	RequestTimeout    time.Duration // Таймаут одного синтетического запроса
	RatePerSecond     float64       // Лимит исходящих запросов
	DryRun            bool
	RateExpr          string // Шаблон запроса органики; пустой = DefaultRateExpr
}

// DefaultRateExpr — запрос органического трафика за 5 минут.
// Подменяется через Options.RateExpr, если схема лейблов у флота другая.
const DefaultRateExpr = `sum(rate(http_requests_total{agent=%q}[5m]))`

// Seeder подкармливает синтетикой только тех агентов, чья органика
// не успевает наполнять latency/error гистограммы. Решения чистые и
// детерминированные: сетевые вызовы вынесены в отдельную фазу.
type Seeder struct {
	querier metricstore.Querier
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *telemetry.Metrics

	rateExpr string
}

func New(querier metricstore.Querier, opts Options, metrics *telemetry.Metrics, logger *zap.Logger) *Seeder {
	burst := opts.MaxAgentsPerCycle
	if burst < 1 {
		burst = 1
	}
	if opts.RateExpr == "" {
		opts.RateExpr = DefaultRateExpr
	}
	return &Seeder{
		querier:  querier,
		opts:     opts,
		client:   &http.Client{Timeout: opts.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst),
		logger:   logger.With(zap.String("mod", "seeder")),
		metrics:  metrics,
		rateExpr: opts.RateExpr,
	}
}

// RunCycle — один проход: замер органики, план решений, исполнение.
// Возвращаемые решения идентичны при dryRun=true и false: отличается
// только то, уходит ли реальный GET.
func (s *Seeder) RunCycle(ctx context.Context, snap *domain.RegistrySnapshot) []domain.SeederDecision {
	if snap == nil {
		return nil
	}

	rates := s.measure(ctx, snap)
	decisions := s.plan(snap, rates)

	for _, d := range decisions {
		s.metrics.SeederDecisions.WithLabelValues(string(d.Action)).Inc()
		if d.Action != domain.ActionStimulate || d.DryRun {
			continue
		}
		if agent, ok := snap.Lookup(d.AgentName); ok {
			s.stimulate(ctx, agent)
		}
	}

	s.logSummary(decisions)
	return decisions
}

// measure читает 5-минутный органический rps каждого активного агента.
// Отказ metrics store или пустая серия = 0 rps: сбой мониторинга должен
// давать БОЛЬШЕ синтетики, а не тихо гасить покрытие.
func (s *Seeder) measure(ctx context.Context, snap *domain.RegistrySnapshot) map[string]float64 {
	rates := make(map[string]float64)
	for _, a := range snap.Enabled() {
		expr := fmt.Sprintf(s.rateExpr, a.Name)
		v, err := s.querier.QueryInstant(ctx, expr)
		if err != nil {
			s.logger.Debug("organic rate unavailable, assuming zero",
				zap.String("agent", a.Name), zap.Error(err))
			v = 0
		}
		rates[a.Name] = v
	}
	return rates
}

// plan — чистая функция решений. Агенты идут в порядке реестра: при
// достижении cap в stimulate стабильно попадают одни и те же, без
// недетерминированного выпадения и связанного с ним флаппинга алертов.
func (s *Seeder) plan(snap *domain.RegistrySnapshot, rates map[string]float64) []domain.SeederDecision {
	decisions := make([]domain.SeederDecision, 0, len(snap.Agents))
	selected := 0

	for _, a := range snap.Agents {
		d := domain.SeederDecision{
			AgentName: a.Name,
			DryRun:    s.opts.DryRun,
		}

		switch {
		case a.Disabled:
			d.Action = domain.ActionSkipDisabled
		case rates[a.Name] >= s.opts.RpsThreshold:
			d.OrganicRps = rates[a.Name]
			d.Action = domain.ActionSkipSufficientTraffic
		case selected >= s.opts.MaxAgentsPerCycle:
			d.OrganicRps = rates[a.Name]
			d.Action = domain.ActionSkipCapReached
		default:
			d.OrganicRps = rates[a.Name]
			d.Action = domain.ActionStimulate
			selected++
		}

		decisions = append(decisions, d)
	}
	return decisions
}

// stimulate — один легкий GET в health-эндпоинт. Отказ логируется и всё:
// на решения этого и следующих циклов он не влияет.
func (s *Seeder) stimulate(ctx context.Context, agent domain.AgentDescriptor) {
	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("stimulation rate limit wait aborted", zap.Error(err))
		return
	}

	rCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rCtx, http.MethodGet, agent.HealthURL(), nil)
	if err != nil {
		s.logger.Warn("stimulation request build failed",
			zap.String("agent", agent.Name), zap.Error(err))
		return
	}
	req.Header.Set("X-Synthetic-Probe", "fleet-observer")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("stimulation failed",
			zap.String("agent", agent.Name), zap.Error(err))
		return
	}
	resp.Body.Close()
}

func (s *Seeder) logSummary(decisions []domain.SeederDecision) {
	counts := map[domain.SeederAction]int{}
	for _, d := range decisions {
		counts[d.Action]++
	}
	s.logger.Info("seeding cycle completed",
		zap.Int("stimulated", counts[domain.ActionStimulate]),
		zap.Int("sufficient", counts[domain.ActionSkipSufficientTraffic]),
		zap.Int("capped", counts[domain.ActionSkipCapReached]),
		zap.Int("disabled", counts[domain.ActionSkipDisabled]),
		zap.Bool("dry_run", s.opts.DryRun),
	)
}

// Run гоняет циклы по тикеру до отмены контекста.
func (s *Seeder) Run(ctx context.Context, interval time.Duration, current func() *domain.RegistrySnapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("adaptive seeding started",
		zap.Duration("interval", interval),
		zap.Float64("rps_threshold", s.opts.RpsThreshold),
		zap.Int("cap", s.opts.MaxAgentsPerCycle),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("adaptive seeding stopping by context...")
			return
		case <-ticker.C:
			s.RunCycle(ctx, current())
		}
	}
}
