package alert

/*
Файл dispatcher.go реализует доставку сработавших SLO-сигналов.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал между циклом оценки и воркером.
  Задержки Postgres/Redis не влияют на тик evaluator'а.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита (100 событий).
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью. Закрытие входного канала + sync.WaitGroup гарантируют Final Flush.
- Handoff: каждое событие дополнительно публикуется в Redis-канал для внешнего
  alert-router'а; формат доставки (webhook, routing, silencing снаружи) —
  не забота этого ядра.
*/

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
	"github.com/xela07ax/fleet-observer/internal/evaluator"
	"github.com/xela07ax/fleet-observer/internal/infra"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

// StorageInterface определяет, куда физически сохраняется история сигналов
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Dispatcher struct {
	ch      chan Event       // Буфер для асинхронности
	repo    StorageInterface // Интерфейс для Postgres
	rdb     *redis.Client    // nil = handoff выключен (тесты, локальный запуск)
	logger  *zap.Logger
	metrics *telemetry.Metrics
	wg      sync.WaitGroup

	// Замок разводит enqueue и закрытие канала: send в закрытый канал невозможен
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(repo StorageInterface, rdb *redis.Client, metrics *telemetry.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ch:      make(chan Event, 10000), // Очередь на 10к событий
		repo:    repo,
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "alert")),
		metrics: metrics,
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true

	// Drain Pattern: завершение воркера — только через закрытие входного канала.
	d.logger.Info("stopping alert dispatcher: closing channel and flushing buffer...")
	close(d.ch)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("alert dispatcher stopped gracefully")
}

// LogBurn реализует evaluator.Dispatcher для burn-сигналов.
func (d *Dispatcher) LogBurn(eval domain.BurnEvaluation) {
	d.enqueue(Event{
		ID:             uuid.New().String(),
		Kind:           KindBurn,
		AgentName:      eval.AgentName,
		Severity:       eval.Severity,
		WindowShort:    eval.WindowShort.String(),
		WindowLong:     eval.WindowLong.String(),
		ErrorRateShort: eval.ErrorRateShort,
		ErrorRateLong:  eval.ErrorRateLong,
		BurnRatio:      eval.BurnRatio,
		Timestamp:      eval.EvaluatedAt,
	})
}

// LogLatency реализует evaluator.Dispatcher для latency-сигналов.
func (d *Dispatcher) LogLatency(eval evaluator.LatencyEvaluation) {
	d.enqueue(Event{
		ID:         uuid.New().String(),
		Kind:       KindLatency,
		AgentName:  eval.AgentName,
		Severity:   eval.Severity,
		P95Seconds: eval.P95Seconds,
		Threshold:  eval.Threshold,
		Timestamp:  eval.EvaluatedAt,
	})
}

func (d *Dispatcher) enqueue(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// RLock на весь enqueue: Stop закрывает канал только под Lock
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("alert event dropped: dispatcher is stopping", zap.String("id", event.ID))
		return
	}

	// Стратегия Load Shedding: при переполнении буфера событие не теряем
	// молча, а кричим в основной лог
	select {
	case d.ch <- event:
		d.metrics.AlertBufferFill.Set(float64(len(d.ch)))
	default:
		d.logger.Error("alert_buffer_overflow",
			zap.String("agent", event.AgentName),
			zap.String("severity", string(event.Severity)),
		)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	batch := make([]Event, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := d.repo.WriteBatch(ctx, batch); err != nil {
			d.logger.Error("alert history flush failed", zap.Error(err))
		}
		d.publish(ctx, batch)
		batch = batch[:0]
		d.metrics.AlertBufferFill.Set(float64(len(d.ch)))
	}

	for {
		select {
		case event, ok := <-d.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс, выход
				flush()
				d.logger.Info("alert worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// publish — handoff во внешний alert-router через Redis Pub/Sub.
func (d *Dispatcher) publish(ctx context.Context, events []Event) {
	if d.rdb == nil {
		return
	}
	pipe := d.rdb.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		pipe.Publish(ctx, infra.RedisChanBurnAlerts, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Error("alert handoff publish failed", zap.Error(err))
	}
}
