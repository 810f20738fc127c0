package metricstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoData — запрос выполнился, но серия пуста. Потребители различают
// "нет данных" и "store недоступен": сидер оба случая трактует как ноль
// трафика, а evaluator при недоступности подавляет оценку.
var ErrNoData = errors.New("metricstore: no data for expression")

// Point — одна точка range-запроса.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Querier — абстрактный read-интерфейс внешнего metrics store.
// Сам движок временных рядов не реализуем: только читаем через API.
type Querier interface {
	// QueryInstant выполняет мгновенный запрос и возвращает скаляр
	// (первое значение результата).
	QueryInstant(ctx context.Context, expr string) (float64, error)
	// QueryRange возвращает серию за окно, заканчивающееся сейчас.
	QueryRange(ctx context.Context, expr string, window time.Duration) ([]Point, error)
}

// GaugeWriter — абстрактный write-интерфейс: публикация и снятие гейджей.
// Реализуется поверх prometheus-регистри экспортера.
type GaugeWriter interface {
	SetGauge(name string, labels map[string]string, value float64)
	RemoveGauge(name string, labels map[string]string)
}

// ThrottleError — store попросил прийти позже (HTTP 429 / Retry-After).
// Ретраи учитывают подсказанную задержку вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
