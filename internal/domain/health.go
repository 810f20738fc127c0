package domain

import "time"

// HealthResult — исход одной пробы. Живет только внутри последнего FleetStatus.
type HealthResult struct {
	AgentName  string    `json:"agent_name"`
	OK         bool      `json:"ok"`
	LatencyMs  int64     `json:"latency_ms"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Error      string    `json:"error,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// FleetStatus — агрегат последнего завершенного цикла опроса.
// Публикуется атомарно целиком, истории не хранит.
type FleetStatus struct {
	Results     map[string]HealthResult `json:"results"` // agent name -> последняя проба
	CompletedAt time.Time               `json:"completed_at"`
}

// HealthyCount / TotalCount — производные значения, не хранятся отдельно.
func (f *FleetStatus) HealthyCount() int {
	n := 0
	for _, r := range f.Results {
		if r.OK {
			n++
		}
	}
	return n
}

func (f *FleetStatus) TotalCount() int {
	return len(f.Results)
}
