package contracts

import "time"

// EthicsAction is the verdict of the external ethics rule engine.
type EthicsAction string

const (
	EthicsAllow EthicsAction = "ALLOW"
	EthicsWarn  EthicsAction = "WARN"
	EthicsBlock EthicsAction = "BLOCK"
)

// EthicsVerdict is the ethics engine's evaluation of a plan.
type EthicsVerdict struct {
	Action         EthicsAction `json:"action"`
	Reasons        []string     `json:"reasons,omitempty"`
	TriggeredRules []string     `json:"triggered_rules,omitempty"`
}

// CounterfactualDecision records what enforcement would have decided when
// it was not active for the request (shadow-mode observability).
type CounterfactualDecision struct {
	PlanHash   string       `json:"plan_hash"`
	Band       GuardianBand `json:"band"`
	WouldBlock bool         `json:"would_block"`
	Reason     string       `json:"reason"`
	Timestamp  time.Time    `json:"timestamp"`
}

// VerificationOutcome is the Plan Verifier's structured result. Produced
// once per call; Reasons lists every violation, never just the first.
type VerificationOutcome struct {
	Allow             bool                     `json:"allow"`
	Reasons           []string                 `json:"reasons,omitempty"`
	PlanHash          string                   `json:"plan_hash"`
	GuardianBand      GuardianBand             `json:"guardian_band"`
	DriftScore        float64                  `json:"drift_score"`
	Guardrails        []string                 `json:"guardrails,omitempty"`
	HumanRequirements []string                 `json:"human_requirements,omitempty"`
	SafetyTags        []SafetyTag              `json:"safety_tags,omitempty"`
	Counterfactuals   []CounterfactualDecision `json:"counterfactuals,omitempty"`
}

// OverrideRequest asks to unblock a BLOCK result via dual approval.
type OverrideRequest struct {
	PlanHash    string `json:"plan_hash"`
	Rationale   string `json:"rationale"`
	Approver1ID string `json:"approver1_id"`
	Approver2ID string `json:"approver2_id"`
}
