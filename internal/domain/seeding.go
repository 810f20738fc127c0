package domain

// SeederAction — решение сидера по конкретному агенту в рамках цикла.
type SeederAction string

const (
	ActionStimulate             SeederAction = "stimulate"
	ActionSkipSufficientTraffic SeederAction = "skip_sufficient_traffic"
	ActionSkipDisabled          SeederAction = "skip_disabled"
	ActionSkipCapReached        SeederAction = "skip_cap_reached"
)

// SeederDecision создается и отбрасывается каждый цикл;
// наружу уходят только агрегированные счетчики.
type SeederDecision struct {
	AgentName  string       `json:"agent_name"`
	OrganicRps float64      `json:"organic_rps"`
	Action     SeederAction `json:"action"`
	DryRun     bool         `json:"dry_run"`
}
