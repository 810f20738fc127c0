package metricstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PromClient читает Prometheus HTTP API (/api/v1/query, /api/v1/query_range).
// Это единственная точка соприкосновения с конкретным бэкендом метрик:
// вся математика выше работает через интерфейс Querier.
type PromClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewPromClient(baseURL string, timeout time.Duration, logger *zap.Logger) *PromClient {
	return &PromClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("mod", "metricstore")),
	}
}

// promResponse — обертка ответа Prometheus API.
type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Value  []json.RawMessage   `json:"value"`  // [ts, "v"] для vector
			Values [][]json.RawMessage `json:"values"` // [[ts, "v"], ...] для matrix
		} `json:"result"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *PromClient) QueryInstant(ctx context.Context, expr string) (float64, error) {
	q := url.Values{}
	q.Set("query", expr)

	resp, err := c.do(ctx, "/api/v1/query", q)
	if err != nil {
		return 0, err
	}
	if len(resp.Data.Result) == 0 || len(resp.Data.Result[0].Value) != 2 {
		return 0, ErrNoData
	}
	return parseSampleValue(resp.Data.Result[0].Value[1])
}

func (c *PromClient) QueryRange(ctx context.Context, expr string, window time.Duration) ([]Point, error) {
	now := time.Now()
	q := url.Values{}
	q.Set("query", expr)
	q.Set("start", strconv.FormatInt(now.Add(-window).Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))
	q.Set("step", strconv.FormatInt(stepFor(window), 10))

	resp, err := c.do(ctx, "/api/v1/query_range", q)
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Result) == 0 {
		return nil, ErrNoData
	}

	raw := resp.Data.Result[0].Values
	points := make([]Point, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		var ts float64
		if err := json.Unmarshal(pair[0], &ts); err != nil {
			continue
		}
		v, err := parseSampleValue(pair[1])
		if err != nil {
			continue
		}
		points = append(points, Point{Timestamp: time.Unix(int64(ts), 0), Value: v})
	}
	if len(points) == 0 {
		return nil, ErrNoData
	}
	return points, nil
}

func (c *PromClient) do(ctx context.Context, path string, q url.Values) (*promResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics store request failed: %w", err)
	}
	defer httpResp.Body.Close()

	// 429 переводим в ThrottleError: ретрай-слой выше учтет Retry-After
	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 1 * time.Second
		if ra := httpResp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("metrics store returned %d", httpResp.StatusCode),
		}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics store returned %d", httpResp.StatusCode)
	}

	var resp promResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode metrics store response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("metrics store query error: %s", resp.Error)
	}
	return &resp, nil
}

// parseSampleValue — значения семплов Prometheus приходят строками.
func parseSampleValue(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unexpected sample value: %w", err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable sample value %q: %w", s, err)
	}
	return v, nil
}

// stepFor подбирает шаг range-запроса: ~30 точек на окно, минимум 15s.
func stepFor(window time.Duration) int64 {
	step := int64(window.Seconds()) / 30
	if step < 15 {
		step = 15
	}
	return step
}
