// Package ethics defines the ethics rule engine collaborator: the external
// component that maps a plan to an ALLOW/WARN/BLOCK verdict.
//
// The verifier depends only on the Engine interface. Hosts plug in their
// own rule engine; without one, the built-in deny-list engine is the
// degraded fallback, and NopEngine is the documented null implementation.
package ethics

import (
	"context"
	"strings"

	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/normalize"
)

// Engine evaluates a plan against ethics rules. Treated as untrusted and
// best-effort by the verifier: an error or absent engine degrades, never
// aborts.
type Engine interface {
	Evaluate(ctx context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext) (*contracts.EthicsVerdict, error)
}

// NopEngine always allows. The explicit null implementation for hosts that
// evaluate ethics elsewhere.
type NopEngine struct{}

func (NopEngine) Evaluate(context.Context, contracts.ActionPlan, *contracts.VerificationContext) (*contracts.EthicsVerdict, error) {
	return &contracts.EthicsVerdict{Action: contracts.EthicsAllow}, nil
}

// DenyListEngine is the minimal built-in fallback used when no real ethics
// engine is configured: a plan whose action or text matches a denied
// keyword is blocked outright.
type DenyListEngine struct {
	denied []string
}

// DefaultDenyList covers the irreversibly destructive action families.
var DefaultDenyList = []string{
	"delete_user_data", "drop_database", "wipe_", "destroy_all",
	"disable_safety", "exfiltrate",
}

// NewDenyListEngine creates the fallback engine. Empty denied uses
// DefaultDenyList.
func NewDenyListEngine(denied []string) *DenyListEngine {
	if len(denied) == 0 {
		denied = DefaultDenyList
	}
	return &DenyListEngine{denied: denied}
}

func (e *DenyListEngine) Evaluate(_ context.Context, plan contracts.ActionPlan, _ *contracts.VerificationContext) (*contracts.EthicsVerdict, error) {
	action := strings.ToLower(plan.Action())
	joined := action
	for _, f := range normalize.Collect(plan) {
		joined += "\n" + strings.ToLower(f.Text)
	}

	for _, kw := range e.denied {
		if strings.Contains(joined, kw) {
			return &contracts.EthicsVerdict{
				Action:         contracts.EthicsBlock,
				Reasons:        []string{"high-risk action denied by built-in list: " + kw},
				TriggeredRules: []string{"denylist:" + kw},
			}, nil
		}
	}
	return &contracts.EthicsVerdict{Action: contracts.EthicsAllow}, nil
}
