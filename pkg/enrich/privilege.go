package enrich

import (
	"strings"

	"github.com/clearline-labs/warden/pkg/contracts"
)

// privilegeDetector flags privilege-escalation attempts: admin/root/sudo
// vocabulary anywhere in the plan, or an action name with a dangerous
// prefix.
type privilegeDetector struct{}

var privilegeKeywords = []string{
	"sudo", "root", "admin", "superuser", "override", "privilege",
	"chmod 777", "setuid", "grant all", "escalate",
}

var dangerousActionPrefixes = []string{
	"delete_", "drop_", "destroy_", "terminate_", "wipe_", "purge_",
	"revoke_", "disable_", "kill_",
}

func (privilegeDetector) Name() string { return "privilege_escalation" }

func (d privilegeDetector) Detect(in Input) (*contracts.SafetyTag, error) {
	best := 0.0

	action := strings.ToLower(in.Plan.Action())
	for _, prefix := range dangerousActionPrefixes {
		if strings.HasPrefix(action, prefix) {
			best = 0.85
			break
		}
	}
	if countHits(in.Joined, privilegeKeywords) > 0 && best < 0.7 {
		best = 0.7
	}

	if best == 0 {
		return nil, nil
	}
	tag, err := contracts.NewSafetyTag("privilege_escalation", contracts.CategorySecurityRisk, best, d.Name())
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// regulatoryDetector flags content governed by data-protection regimes.
// An EU/EEA context flag lowers the acceptance threshold: the same wording
// is riskier when the data subject is in scope.
type regulatoryDetector struct{}

var regulatoryKeywords = []string{
	"gdpr", "hipaa", "ccpa", "dsar", "right to be forgotten", "data subject",
	"consent", "personal data", "retention", "erasure",
}

func (regulatoryDetector) Name() string { return "regulatory" }

func (d regulatoryDetector) Detect(in Input) (*contracts.SafetyTag, error) {
	hits := countHits(in.Joined, regulatoryKeywords)
	if hits == 0 {
		return nil, nil
	}

	conf := 0.5 + 0.1*float64(hits-1)
	if conf > 0.9 {
		conf = 0.9
	}

	threshold := 0.6
	if euContext(in.Context) {
		threshold = 0.4
	}
	if conf < threshold {
		return nil, nil
	}

	tag, err := contracts.NewSafetyTag("regulatory", contracts.CategoryCompliance, conf, d.Name())
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func euContext(vctx *contracts.VerificationContext) bool {
	if vctx == nil || vctx.Metadata == nil {
		return false
	}
	if region, ok := vctx.Metadata["region"].(string); ok {
		switch strings.ToUpper(region) {
		case "EU", "EEA":
			return true
		}
	}
	flag, _ := vctx.Metadata["eu_data_subject"].(bool)
	return flag
}
