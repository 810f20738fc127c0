package domain

import "time"

// Severity — уровень burn-rate сигнала. Level-triggered:
// пересчитывается заново каждый тик, без edge-логики и ресетов.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BurnEvaluation — результат оценки одной пары окон для одного агента
// (или всего флота, см. FleetAgentName). Не персистится движком оценки;
// история — забота диспетчера алертов.
type BurnEvaluation struct {
	AgentName      string        `json:"agent_name"`
	WindowShort    time.Duration `json:"window_short"`
	WindowLong     time.Duration `json:"window_long"`
	ErrorRateShort float64       `json:"error_rate_short"`
	ErrorRateLong  float64       `json:"error_rate_long"`
	BurnRatio      float64       `json:"burn_ratio"` // max по двум окнам — для читаемости алерта
	Severity       Severity      `json:"severity"`
	EvaluatedAt    time.Time     `json:"evaluated_at"`
}

// FleetAgentName — псевдо-имя для флотовой (системной) оценки.
const FleetAgentName = "_fleet"
