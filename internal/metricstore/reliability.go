package metricstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
)

// ReliableQuerier оборачивает любой Querier в Retries + Circuit Breaker.
// Деградация metrics store не должна валить циклы сидера/оценки:
// после серии отказов CB открывается и запросы отбиваются мгновенно.
type ReliableQuerier struct {
	next Querier
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings — настройки предохранителя вокруг metrics store.
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func NewReliableQuerier(next Querier, bs BreakerSettings) *ReliableQuerier {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metrics-store",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		// Пустая серия — штатный ответ (низкотрафиковые агенты),
		// предохранитель на ней не взводим
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
	})

	return &ReliableQuerier{next: next, cb: cb}
}

func (w *ReliableQuerier) QueryInstant(ctx context.Context, expr string) (float64, error) {
	res, err := w.execute(ctx, func(tCtx context.Context) (interface{}, error) {
		return w.next.QueryInstant(tCtx, expr)
	})
	if err != nil {
		return 0, err
	}
	return res.(float64), nil
}

func (w *ReliableQuerier) QueryRange(ctx context.Context, expr string, window time.Duration) ([]Point, error) {
	res, err := w.execute(ctx, func(tCtx context.Context) (interface{}, error) {
		return w.next.QueryRange(tCtx, expr, window)
	})
	if err != nil {
		return nil, err
	}
	return res.([]Point), nil
}

func (w *ReliableQuerier) execute(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		var finalData interface{}

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.LastErrorOnly(true),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если store вернул ThrottleError (считали Retry-After заголовок)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
			// Пустая серия — не сбой, ретраить бессмысленно
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, ErrNoData)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalData, callErr = call(tCtx)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("metrics store circuit open: %w", err)
		}
		return nil, err
	}
	return cbResult, nil
}
