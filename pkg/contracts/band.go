package contracts

import (
	"fmt"
	"time"
)

// GuardianBand is an ordered enforcement posture. Higher values are more
// restrictive; comparisons use the integer ordering directly.
type GuardianBand int

const (
	BandAllow GuardianBand = iota
	BandAllowWithGuardrails
	BandRequireHuman
	BandBlock
)

// String implements fmt.Stringer for GuardianBand.
func (b GuardianBand) String() string {
	switch b {
	case BandAllow:
		return "ALLOW"
	case BandAllowWithGuardrails:
		return "ALLOW_WITH_GUARDRAILS"
	case BandRequireHuman:
		return "REQUIRE_HUMAN"
	case BandBlock:
		return "BLOCK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(b))
	}
}

// ParseBand maps a band name back to its value. Unknown names fail closed
// to BandBlock.
func ParseBand(s string) GuardianBand {
	switch s {
	case "ALLOW":
		return BandAllow
	case "ALLOW_WITH_GUARDRAILS":
		return BandAllowWithGuardrails
	case "REQUIRE_HUMAN":
		return BandRequireHuman
	default:
		return BandBlock
	}
}

// TransitionTrigger names the cause of a band transition.
type TransitionTrigger string

const (
	TriggerEthicsViolation   TransitionTrigger = "ETHICS_VIOLATION"
	TriggerDriftThreshold    TransitionTrigger = "DRIFT_THRESHOLD"
	TriggerDriftAcceleration TransitionTrigger = "DRIFT_ACCELERATION"
	TriggerHysteresisDecay   TransitionTrigger = "HYSTERESIS_DECAY"
	TriggerManualOverride    TransitionTrigger = "MANUAL_OVERRIDE"
	TriggerSystemRecovery    TransitionTrigger = "SYSTEM_RECOVERY"
)

// BandTransition records one band change (or held non-transition) for audit.
type BandTransition struct {
	Timestamp    time.Time         `json:"timestamp"`
	FromBand     GuardianBand      `json:"from_band"`
	ToBand       GuardianBand      `json:"to_band"`
	Trigger      TransitionTrigger `json:"trigger"`
	DriftScore   float64           `json:"drift_score"`
	EthicsAction EthicsAction      `json:"ethics_action"`
	PlanHash     string            `json:"plan_hash"`
	Reason       string            `json:"reason"`
}

// GuardianThresholds holds the three ascending drift cut-points and the
// hysteresis hold duration armed when each non-ALLOW band is entered.
type GuardianThresholds struct {
	Guardrails float64 // drift at or above enters ALLOW_WITH_GUARDRAILS
	Human      float64 // drift at or above enters REQUIRE_HUMAN
	Block      float64 // drift at or above enters BLOCK

	GuardrailsHold time.Duration
	HumanHold      time.Duration
	BlockHold      time.Duration
}

// NewGuardianThresholds validates that the cut-points are each in [0,1]
// and strictly ascending.
func NewGuardianThresholds(guardrails, human, block float64, guardrailsHold, humanHold, blockHold time.Duration) (GuardianThresholds, error) {
	for name, v := range map[string]float64{"guardrails": guardrails, "human": human, "block": block} {
		if v < 0 || v > 1 {
			return GuardianThresholds{}, fmt.Errorf("threshold %s=%v outside [0,1]", name, v)
		}
	}
	if !(guardrails < human && human < block) {
		return GuardianThresholds{}, fmt.Errorf("thresholds must ascend: guardrails=%v human=%v block=%v", guardrails, human, block)
	}
	return GuardianThresholds{
		Guardrails:     guardrails,
		Human:          human,
		Block:          block,
		GuardrailsHold: guardrailsHold,
		HumanHold:      humanHold,
		BlockHold:      blockHold,
	}, nil
}

// HoldFor returns the hysteresis hold duration armed on entering band.
func (t GuardianThresholds) HoldFor(band GuardianBand) time.Duration {
	switch band {
	case BandAllowWithGuardrails:
		return t.GuardrailsHold
	case BandRequireHuman:
		return t.HumanHold
	case BandBlock:
		return t.BlockHold
	default:
		return 0
	}
}

// DefaultGuardianThresholds returns the production defaults:
// 0.15 / 0.35 / 0.7 with 30s / 60s / 300s holds.
func DefaultGuardianThresholds() GuardianThresholds {
	return GuardianThresholds{
		Guardrails:     0.15,
		Human:          0.35,
		Block:          0.7,
		GuardrailsHold: 30 * time.Second,
		HumanHold:      60 * time.Second,
		BlockHold:      300 * time.Second,
	}
}

// GuardianBandResult is the Guardian engine's per-evaluation output.
type GuardianBandResult struct {
	Band              GuardianBand `json:"band"`
	DriftScore        float64      `json:"drift_score"`
	Guardrails        []string     `json:"guardrails,omitempty"`
	HumanRequirements []string     `json:"human_requirements,omitempty"`
	Reason            string       `json:"reason,omitempty"`

	// Override fields, populated only by the dual-approval path.
	OverrideRequested bool     `json:"override_requested,omitempty"`
	OverrideApproved  bool     `json:"override_approved,omitempty"`
	OverrideRationale string   `json:"override_rationale,omitempty"`
	ApproverIDs       []string `json:"approver_ids,omitempty"`
}
