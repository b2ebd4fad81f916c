package guardian

import (
	"github.com/clearline-labs/warden/pkg/contracts"
)

// requirements generates the per-band guardrail and human-requirement
// lists. Moderate-high drift or an ethics warning widens the guardrail
// set; deep drift or multiple triggered ethics rules escalates the human
// requirements.
func requirements(band contracts.GuardianBand, score float64, t contracts.GuardianThresholds, verdict *contracts.EthicsVerdict) (guardrails, human []string) {
	switch band {
	case contracts.BandAllowWithGuardrails:
		guardrails = []string{"enable_audit_logging", "require_output_validation"}
		midpoint := (t.Guardrails + t.Human) / 2
		if score >= midpoint || (verdict != nil && verdict.Action == contracts.EthicsWarn) {
			guardrails = append(guardrails, "restrict_batch_size", "enhanced_monitoring")
		}

	case contracts.BandRequireHuman:
		human = []string{"human_review", "explicit_approval"}
		if score >= t.Human+0.1 || (verdict != nil && len(verdict.TriggeredRules) > 2) {
			human = append(human, "escalate_to_oncall")
		}

	case contracts.BandBlock:
		human = []string{"security_investigation", "remediation_plan"}
	}
	return guardrails, human
}
