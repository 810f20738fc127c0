package alert

import (
	"time"

	"github.com/xela07ax/fleet-observer/internal/domain"
)

// Kind — тип сработавшего сигнала.
type Kind string

const (
	KindBurn    Kind = "burn"
	KindLatency Kind = "latency"
)

// Event — запись о сработавшем SLO-сигнале. Уходит пачками в Postgres
// (история для разбора инцидентов) и поштучно в Redis-канал handoff,
// на который подписан внешний alert-router.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	AgentName string          `json:"agent_name"`
	Severity  domain.Severity `json:"severity"`

	// Контекст burn-сигнала
	WindowShort    string  `json:"window_short,omitempty"`
	WindowLong     string  `json:"window_long,omitempty"`
	ErrorRateShort float64 `json:"error_rate_short,omitempty"`
	ErrorRateLong  float64 `json:"error_rate_long,omitempty"`
	BurnRatio      float64 `json:"burn_ratio,omitempty"`

	// Контекст latency-сигнала
	P95Seconds float64 `json:"p95_seconds,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
