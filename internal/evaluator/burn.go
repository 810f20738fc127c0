package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/metricstore"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

// WindowPair — пара окон multi-window схемы. Сигнал уходит только когда
// ОБА окна жгут бюджет быстрее multiplier: короткое дает чувствительность,
// длинное отсекает одиночные всплески.
type WindowPair struct {
	Short      time.Duration
	Long       time.Duration
	Multiplier float64
	Severity   domain.Severity
}

// DefaultPairs — классическая пара Google SRE workbook: 14x на 5m/1h
// (critical) и 6x на 30m/6h (warning).
func DefaultPairs(fastMultiplier, slowMultiplier float64) []WindowPair {
	return []WindowPair{
		{Short: 5 * time.Minute, Long: time.Hour, Multiplier: fastMultiplier, Severity: domain.SeverityCritical},
		{Short: 30 * time.Minute, Long: 6 * time.Hour, Multiplier: slowMultiplier, Severity: domain.SeverityWarning},
	}
}

// Шаблоны запросов к metrics store: %q — имя агента, %s — окно.
const (
	DefaultErrorsExpr = `sum(increase(http_requests_errors_total{agent=%q}[%s]))`
	DefaultTotalExpr  = `sum(increase(http_requests_total{agent=%q}[%s]))`
	DefaultP95Expr    = `histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{agent=%q}[5m])) by (le))`
)

// FleetOptions — параметры флотовой (системной) оценки. Множитель вынесен
// в конфиг: источник не фиксирует, совпадает ли он с поагентным.
type FleetOptions struct {
	Budget     float64
	Multiplier float64
}

// Dispatcher принимает сработавшие оценки (handoff во внешний роутинг).
type Dispatcher interface {
	LogBurn(eval domain.BurnEvaluation)
	LogLatency(eval LatencyEvaluation)
}

// Silencer проверяет операторскую заглушку алертов по агенту.
type Silencer interface {
	IsSilenced(agentName string) bool
}

// LatencyEvaluation — latency multi-window схеме не подчиняется:
// простое сравнение p95 за 5 минут с двумя порогами из реестра.
type LatencyEvaluation struct {
	AgentName   string          `json:"agent_name"`
	P95Seconds  float64         `json:"p95_seconds"`
	Threshold   float64         `json:"threshold"`
	Severity    domain.Severity `json:"severity"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

// Evaluator пересчитывает SLO burn-сигналы каждый тик с нуля.
// Состояния между тиками нет: алерты level-triggered, флаппующее условие
// само переоценится, явного ресета не требуется.
type Evaluator struct {
	querier    metricstore.Querier
	pairs      []WindowPair
	fleet      FleetOptions
	dispatcher Dispatcher
	silencer   Silencer
	logger     *zap.Logger
	metrics    *telemetry.Metrics

	errorsExpr string
	totalExpr  string
	p95Expr    string
}

func New(
	querier metricstore.Querier,
	pairs []WindowPair,
	fleet FleetOptions,
	dispatcher Dispatcher,
	silencer Silencer,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		querier:    querier,
		pairs:      pairs,
		fleet:      fleet,
		dispatcher: dispatcher,
		silencer:   silencer,
		logger:     logger.With(zap.String("mod", "evaluator")),
		metrics:    metrics,
		errorsExpr: DefaultErrorsExpr,
		totalExpr:  DefaultTotalExpr,
		p95Expr:    DefaultP95Expr,
	}
}

// errorRate — доля ошибок за окно. Нулевой трафик дает 0, а не деление
// на ноль: пустое окно не жжет бюджет.
func errorRate(errorCount, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return errorCount / total
}

// burnRatio — скорость расхода бюджета. 1.0 = ровно sustainable темп;
// 14 = 30-дневный бюджет сгорит примерно за 30/14 дня.
func burnRatio(rate, budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	return rate / budget
}

// EvaluatePair считает одну пару окон для одного агента.
// ok=false — данных нет (store недоступен): оценку подавляем, а не
// алертим на пустоте.
func (e *Evaluator) EvaluatePair(ctx context.Context, agentName string, budget float64, pair WindowPair) (domain.BurnEvaluation, bool) {
	shortRate, shortOK := e.windowErrorRate(ctx, agentName, pair.Short)
	longRate, longOK := e.windowErrorRate(ctx, agentName, pair.Long)
	if !shortOK || !longOK {
		return domain.BurnEvaluation{}, false
	}

	shortRatio := burnRatio(shortRate, budget)
	longRatio := burnRatio(longRate, budget)

	eval := domain.BurnEvaluation{
		AgentName:      agentName,
		WindowShort:    pair.Short,
		WindowLong:     pair.Long,
		ErrorRateShort: shortRate,
		ErrorRateLong:  longRate,
		BurnRatio:      maxFloat(shortRatio, longRatio),
		Severity:       domain.SeverityNone,
		EvaluatedAt:    time.Now(),
	}

	// Оба окна должны согласиться — multi-window инвариант
	if shortRatio > pair.Multiplier && longRatio > pair.Multiplier {
		eval.Severity = pair.Severity
	}
	return eval, true
}

// windowErrorRate читает счетчики errors/total за окно.
// ErrNoData на total = нет трафика = rate 0 (валидная оценка);
// любой другой отказ запроса = подавление (false).
func (e *Evaluator) windowErrorRate(ctx context.Context, agentName string, window time.Duration) (float64, bool) {
	w := promWindow(window)

	total, err := e.querier.QueryInstant(ctx, fmt.Sprintf(e.totalExpr, agentName, w))
	if err != nil {
		if isNoData(err) {
			return 0, true
		}
		e.logger.Warn("total counter query failed, suppressing evaluation",
			zap.String("agent", agentName), zap.String("window", w), zap.Error(err))
		return 0, false
	}

	errorCount, err := e.querier.QueryInstant(ctx, fmt.Sprintf(e.errorsExpr, agentName, w))
	if err != nil {
		if isNoData(err) {
			errorCount = 0 // Счетчик ошибок еще не инициализирован — ошибок не было
		} else {
			e.logger.Warn("error counter query failed, suppressing evaluation",
				zap.String("agent", agentName), zap.String("window", w), zap.Error(err))
			return 0, false
		}
	}

	return errorRate(errorCount, total), true
}

// EvaluateAgent — все пары окон одного агента. Подавленные пары в
// результат не попадают.
func (e *Evaluator) EvaluateAgent(ctx context.Context, agent domain.AgentDescriptor) []domain.BurnEvaluation {
	evals := make([]domain.BurnEvaluation, 0, len(e.pairs))
	for _, pair := range e.pairs {
		if eval, ok := e.EvaluatePair(ctx, agent.Name, agent.ErrorBudgetFraction, pair); ok {
			evals = append(evals, eval)
		}
	}
	return evals
}

// EvaluateLatency — одно окно, два порога: warning и critical разнесены,
// чтобы алерт не дребезжал на единственной границе.
func (e *Evaluator) EvaluateLatency(ctx context.Context, agent domain.AgentDescriptor) (LatencyEvaluation, bool) {
	p95, err := e.querier.QueryInstant(ctx, fmt.Sprintf(e.p95Expr, agent.Name))
	if err != nil {
		if !isNoData(err) {
			e.logger.Warn("p95 query failed, suppressing latency evaluation",
				zap.String("agent", agent.Name), zap.Error(err))
		}
		return LatencyEvaluation{}, false
	}

	eval := LatencyEvaluation{
		AgentName:   agent.Name,
		P95Seconds:  p95,
		Severity:    domain.SeverityNone,
		EvaluatedAt: time.Now(),
	}
	switch {
	case p95 > agent.LatencyP95CriticalSeconds:
		eval.Severity = domain.SeverityCritical
		eval.Threshold = agent.LatencyP95CriticalSeconds
	case p95 > agent.LatencyP95WarningSeconds:
		eval.Severity = domain.SeverityWarning
		eval.Threshold = agent.LatencyP95WarningSeconds
	}
	return eval, true
}

// EvaluateFleet — системная оценка: суммы ошибок и запросов по флоту,
// НЕ среднее поагентных долей (оно перевешивало бы низкотрафиковых).
func (e *Evaluator) EvaluateFleet(ctx context.Context, snap *domain.RegistrySnapshot) []domain.BurnEvaluation {
	evals := make([]domain.BurnEvaluation, 0, len(e.pairs))

	for _, pair := range e.pairs {
		shortRate, shortOK := e.fleetErrorRate(ctx, snap, pair.Short)
		longRate, longOK := e.fleetErrorRate(ctx, snap, pair.Long)
		if !shortOK || !longOK {
			continue
		}

		shortRatio := burnRatio(shortRate, e.fleet.Budget)
		longRatio := burnRatio(longRate, e.fleet.Budget)

		eval := domain.BurnEvaluation{
			AgentName:      domain.FleetAgentName,
			WindowShort:    pair.Short,
			WindowLong:     pair.Long,
			ErrorRateShort: shortRate,
			ErrorRateLong:  longRate,
			BurnRatio:      maxFloat(shortRatio, longRatio),
			Severity:       domain.SeverityNone,
			EvaluatedAt:    time.Now(),
		}
		if shortRatio > e.fleet.Multiplier && longRatio > e.fleet.Multiplier {
			eval.Severity = pair.Severity
		}
		evals = append(evals, eval)
	}
	return evals
}

// fleetErrorRate — sum(errors)/sum(total) по всем активным агентам.
func (e *Evaluator) fleetErrorRate(ctx context.Context, snap *domain.RegistrySnapshot, window time.Duration) (float64, bool) {
	w := promWindow(window)
	var errorSum, totalSum float64

	for _, a := range snap.Enabled() {
		total, err := e.querier.QueryInstant(ctx, fmt.Sprintf(e.totalExpr, a.Name, w))
		if err != nil {
			if isNoData(err) {
				continue
			}
			return 0, false
		}
		errorCount, err := e.querier.QueryInstant(ctx, fmt.Sprintf(e.errorsExpr, a.Name, w))
		if err != nil {
			if !isNoData(err) {
				return 0, false
			}
			errorCount = 0
		}
		totalSum += total
		errorSum += errorCount
	}

	return errorRate(errorSum, totalSum), true
}

// Tick — полный проход оценки по снапшоту: поагентные burn-пары,
// latency-проверки и флотовая оценка. Сработавшие и не заглушенные
// результаты уходят в диспетчер.
func (e *Evaluator) Tick(ctx context.Context, snap *domain.RegistrySnapshot) []domain.BurnEvaluation {
	if snap == nil {
		return nil
	}

	var all []domain.BurnEvaluation
	for _, agent := range snap.Enabled() {
		for _, eval := range e.EvaluateAgent(ctx, agent) {
			all = append(all, eval)
			e.record(eval)
		}
		if lat, ok := e.EvaluateLatency(ctx, agent); ok && lat.Severity != domain.SeverityNone {
			if e.silencer != nil && e.silencer.IsSilenced(agent.Name) {
				continue
			}
			e.dispatcher.LogLatency(lat)
		}
	}

	for _, eval := range e.EvaluateFleet(ctx, snap) {
		all = append(all, eval)
		e.record(eval)
	}
	return all
}

// record считает метрику и отдает сработавшую оценку в диспетчер,
// если агент не заглушен оператором.
func (e *Evaluator) record(eval domain.BurnEvaluation) {
	e.metrics.BurnEvaluations.WithLabelValues(string(eval.Severity)).Inc()
	if eval.Severity == domain.SeverityNone {
		return
	}
	if e.silencer != nil && e.silencer.IsSilenced(eval.AgentName) {
		e.logger.Debug("burn signal silenced", zap.String("agent", eval.AgentName))
		return
	}
	e.dispatcher.LogBurn(eval)
}

// Run гоняет тики по таймеру до отмены контекста.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration, current func() *domain.RegistrySnapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("burn-rate evaluation started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("burn-rate evaluation stopping by context...")
			return
		case <-ticker.C:
			e.Tick(ctx, current())
		}
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func isNoData(err error) bool {
	return errors.Is(err, metricstore.ErrNoData)
}

// promWindow форматирует окно в PromQL-нотацию (5m, 1h, 6h).
func promWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
