package domain

import "time"

// AgentDescriptor — одна строка реестра: наблюдаемый агент и его SLO-пороги.
type AgentDescriptor struct {
	Name        string `json:"name" yaml:"name"`                 // Уникальный ключ внутри снапшота
	DisplayName string `json:"display_name" yaml:"display_name"` // Человекочитаемое имя (например, "Jira-Helper-Bot")
	Category    string `json:"category" yaml:"category"`

	Endpoint   string `json:"endpoint" yaml:"endpoint"`       // host:port
	HealthPath string `json:"health_path" yaml:"health_path"` // По умолчанию /health

	// SLO-пороги latency (секунды). Warning всегда строго не выше Critical.
	LatencyP95WarningSeconds  float64 `json:"latency_p95_warning_seconds" yaml:"latency_p95_warning_seconds"`
	LatencyP95CriticalSeconds float64 `json:"latency_p95_critical_seconds" yaml:"latency_p95_critical_seconds"`

	// Допустимая доля неуспешных запросов, (0, 1].
	ErrorBudgetFraction float64 `json:"error_budget_fraction" yaml:"error_budget_fraction"`

	// Выключенный агент исчезает из агрегации, экспорта и сидинга.
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// HealthURL собирает полный адрес health-эндпоинта агента.
func (a AgentDescriptor) HealthURL() string {
	path := a.HealthPath
	if path == "" {
		path = "/health"
	}
	return "http://" + a.Endpoint + path
}

// RegistrySnapshot — иммутабельный снимок реестра. После публикации
// не мутируется: замена только целиком, через atomic-своп в Store.
type RegistrySnapshot struct {
	Agents      []AgentDescriptor `json:"agents"`
	Fingerprint string            `json:"fingerprint"` // Сигнатура источника (size+mtime)
	LoadedAt    time.Time         `json:"loaded_at"`
}

// Enabled возвращает только активных агентов в порядке реестра.
// Порядок стабилен — на него опирается cap-логика сидера.
func (s *RegistrySnapshot) Enabled() []AgentDescriptor {
	out := make([]AgentDescriptor, 0, len(s.Agents))
	for _, a := range s.Agents {
		if !a.Disabled {
			out = append(out, a)
		}
	}
	return out
}

// Lookup ищет агента по имени (включая выключенных).
func (s *RegistrySnapshot) Lookup(name string) (AgentDescriptor, bool) {
	for _, a := range s.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentDescriptor{}, false
}
