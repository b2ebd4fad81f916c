package ethics

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/clearline-labs/warden/pkg/contracts"
)

// Rule is one CEL-expression ethics rule. The expression evaluates over a
// single "input" map holding action, params, description, and safety tag
// names; a true result triggers the rule.
type Rule struct {
	ID         string
	Expression string
	Action     contracts.EthicsAction // verdict contributed when triggered
	Reason     string
}

// CELEngine evaluates plans against a fixed rule set. Expressions compile
// once and cache; evaluation is pure and safe for concurrent use.
//
// Verdict aggregation is strictest-wins: any BLOCK rule blocks, otherwise
// any WARN rule warns, otherwise the plan is allowed.
type CELEngine struct {
	env   *cel.Env
	rules []Rule

	mu    sync.RWMutex
	progs map[string]cel.Program
}

// NewCELEngine compiles nothing up front; expressions compile lazily on
// first evaluation and are cached thereafter.
func NewCELEngine(rules []Rule) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("ethics: CEL env: %w", err)
	}
	return &CELEngine{env: env, rules: rules, progs: make(map[string]cel.Program)}, nil
}

func (e *CELEngine) Evaluate(_ context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext) (*contracts.EthicsVerdict, error) {
	input := map[string]any{
		"action":      plan.Action(),
		"params":      plan.Params(),
		"description": plan.Description(),
	}
	if vctx != nil && vctx.Metadata != nil {
		if tags, ok := vctx.Metadata["safety_tags"].([]string); ok {
			input["tags"] = tags
		}
	}
	if _, ok := input["tags"]; !ok {
		input["tags"] = []string{}
	}

	verdict := &contracts.EthicsVerdict{Action: contracts.EthicsAllow}
	for _, rule := range e.rules {
		triggered, err := e.eval(rule.Expression, input)
		if err != nil {
			// A broken rule must not fail open for the others; it simply
			// contributes nothing. The caller sees partial evaluation.
			continue
		}
		if !triggered {
			continue
		}
		verdict.TriggeredRules = append(verdict.TriggeredRules, rule.ID)
		verdict.Reasons = append(verdict.Reasons, rule.Reason)
		if severity(rule.Action) > severity(verdict.Action) {
			verdict.Action = rule.Action
		}
	}
	return verdict, nil
}

func (e *CELEngine) eval(expression string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prog, hit := e.progs[expression]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prog, hit = e.progs[expression]; !hit {
			ast, issues := e.env.Compile(expression)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("CEL compile error: %w", issues.Err())
			}
			p, err := e.env.Program(ast)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("CEL program error: %w", err)
			}
			e.progs[expression] = p
			prog = p
		}
		e.mu.Unlock()
	}

	out, _, err := prog.Eval(map[string]any{"input": input})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}
	triggered, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule result not boolean")
	}
	return triggered, nil
}

func severity(a contracts.EthicsAction) int {
	switch a {
	case contracts.EthicsBlock:
		return 2
	case contracts.EthicsWarn:
		return 1
	default:
		return 0
	}
}
