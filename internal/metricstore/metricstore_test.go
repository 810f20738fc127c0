package metricstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueryInstantScalar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, `sum(rate(http_requests_total[5m]))`, r.URL.Query().Get("query"))
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"0.25"]}]}}`)
	}))
	defer srv.Close()

	c := NewPromClient(srv.URL, time.Second, zap.NewNop())
	v, err := c.QueryInstant(context.Background(), `sum(rate(http_requests_total[5m]))`)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-9)
}

func TestQueryInstantNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer srv.Close()

	c := NewPromClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.QueryInstant(context.Background(), "up")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestQueryRangeDecodesMatrix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query_range", r.URL.Path)
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[[1700000000,"1.0"],[1700000015,"2.5"]]}]}}`)
	}))
	defer srv.Close()

	c := NewPromClient(srv.URL, time.Second, zap.NewNop())
	points, err := c.QueryRange(context.Background(), "up", 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 2.5, points[1].Value, 1e-9)
}

func TestQueryThrottleHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"3"]}]}}`)
	}))
	defer srv.Close()

	q := NewReliableQuerier(
		NewPromClient(srv.URL, time.Second, zap.NewNop()),
		BreakerSettings{MaxRequests: 3, Interval: 5 * time.Second, Timeout: 30 * time.Second},
	)

	v, err := q.QueryInstant(context.Background(), "up")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v, 1e-9)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "первый вызов — 429, второй — успех")
}

func TestReliableQuerierDoesNotRetryNoData(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer srv.Close()

	q := NewReliableQuerier(
		NewPromClient(srv.URL, time.Second, zap.NewNop()),
		BreakerSettings{MaxRequests: 3, Interval: 5 * time.Second, Timeout: 30 * time.Second},
	)

	_, err := q.QueryInstant(context.Background(), "up")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
