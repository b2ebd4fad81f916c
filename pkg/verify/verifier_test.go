package verify

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline-labs/warden/pkg/config"
	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/guardian"
	"github.com/clearline-labs/warden/pkg/ledger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	// Point the kill-switch somewhere that cannot exist on a shared box.
	cfg.KillSwitchPath = filepath.Join(t.TempDir(), "killswitch")
	return cfg
}

func newTestVerifier(t *testing.T, cfg *config.Config, opts ...Option) *Verifier {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	v, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func benignPlan() contracts.ActionPlan {
	return contracts.ActionPlan{
		"action": "generate_summary",
		"params": map[string]any{"topic": "quarterly roadmap"},
	}
}

type stubEthics struct {
	verdict *contracts.EthicsVerdict
	err     error
}

func (s stubEthics) Evaluate(context.Context, contracts.ActionPlan, *contracts.VerificationContext) (*contracts.EthicsVerdict, error) {
	return s.verdict, s.err
}

type panickingEthics struct{}

func (panickingEthics) Evaluate(context.Context, contracts.ActionPlan, *contracts.VerificationContext) (*contracts.EthicsVerdict, error) {
	panic("ethics engine corrupted")
}

func TestVerifyHighRiskActionDenied(t *testing.T) {
	mem := ledger.NewMemory(10)
	v := newTestVerifier(t, nil, WithGovernance(mem))

	plan := contracts.ActionPlan{"action": "delete_user_data", "params": map[string]any{}}
	out := v.Verify(context.Background(), plan, &contracts.VerificationContext{UserID: "u1", SessionID: "s1"})

	assert.False(t, out.Allow)
	assert.Equal(t, contracts.BandBlock, out.GuardianBand)
	require.NotEmpty(t, out.Reasons)
	assert.Contains(t, out.Reasons[0], "high-risk")
	assert.NotEmpty(t, out.PlanHash)

	require.Equal(t, 1, mem.Len())
	d := mem.Decisions()[0]
	assert.Equal(t, "delete_user_data", d.Action)
	assert.Equal(t, "BLOCK", d.Band)
	assert.Contains(t, d.MatchedRules, "denylist:delete_user_data")
	assert.NotEmpty(t, d.Justification)
}

func TestVerifyBenignPlanWithPII(t *testing.T) {
	v := newTestVerifier(t, nil)

	plan := contracts.ActionPlan{
		"action": "send_report",
		"params": map[string]any{"recipient": "user@example.com"},
	}
	out := v.Verify(context.Background(), plan, &contracts.VerificationContext{UserID: "u1", SessionID: "s1"})

	assert.True(t, out.Allow, "PII alone is informational, not a violation")
	var pii *contracts.SafetyTag
	for i := range out.SafetyTags {
		if out.SafetyTags[i].Name == "pii" {
			pii = &out.SafetyTags[i]
		}
	}
	require.NotNil(t, pii, "expected a pii tag")
	assert.GreaterOrEqual(t, pii.Confidence, 0.5)
}

func TestVerifyStructure(t *testing.T) {
	v := newTestVerifier(t, nil)
	ctx := context.Background()

	t.Run("nil plan", func(t *testing.T) {
		out := v.Verify(ctx, nil, nil)
		assert.False(t, out.Allow)
		require.Len(t, out.Reasons, 1)
		assert.Contains(t, out.Reasons[0], "plan structure")
	})

	t.Run("missing params", func(t *testing.T) {
		out := v.Verify(ctx, contracts.ActionPlan{"action": "x"}, nil)
		assert.False(t, out.Allow)
		require.NotEmpty(t, out.Reasons)
		assert.Contains(t, out.Reasons[0], "plan structure")
		assert.Empty(t, out.SafetyTags, "structural failures short-circuit enrichment")
	})

	t.Run("non-string action", func(t *testing.T) {
		out := v.Verify(ctx, contracts.ActionPlan{"action": 5, "params": map[string]any{}}, nil)
		assert.False(t, out.Allow)
		assert.Contains(t, out.Reasons[0], "plan structure")
	})

	t.Run("empty action", func(t *testing.T) {
		out := v.Verify(ctx, contracts.ActionPlan{"action": "", "params": map[string]any{}}, nil)
		assert.False(t, out.Allow)
	})
}

func TestVerifyResourceLimits(t *testing.T) {
	v := newTestVerifier(t, nil)

	plan := contracts.ActionPlan{
		"action": "process_batch",
		"params": map[string]any{
			"estimated_duration_seconds": 400.0,
			"estimated_memory_mb":        2048,
			"batch_size":                 5000,
		},
	}
	out := v.Verify(context.Background(), plan, nil)

	assert.False(t, out.Allow)
	require.Len(t, out.Reasons, 3, "every violation is reported, not just the first")
	for _, r := range out.Reasons {
		assert.Contains(t, r, "exceeds limit")
	}
}

func TestVerifyLoopLimits(t *testing.T) {
	v := newTestVerifier(t, nil)

	plan := contracts.ActionPlan{
		"action": "crawl_tree",
		"params": map[string]any{"iterations": 20000, "recursion_depth": 50},
	}
	out := v.Verify(context.Background(), plan, nil)

	assert.False(t, out.Allow)
	require.Len(t, out.Reasons, 2)
	assert.Contains(t, out.Reasons[0], "iteration count")
	assert.Contains(t, out.Reasons[1], "recursion depth")
}

func TestVerifyDomainAllowList(t *testing.T) {
	plan := contracts.ActionPlan{
		"action": "http_request",
		"params": map[string]any{"url": "https://api.evil.com/data"},
	}

	t.Run("unlisted domain denied", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AllowedDomains = []string{"api.good.com"}
		v := newTestVerifier(t, cfg)

		out := v.Verify(context.Background(), plan, nil)
		assert.False(t, out.Allow)
		require.NotEmpty(t, out.Reasons)
		assert.Contains(t, out.Reasons[0], "not in domain allow-list")
	})

	t.Run("listed domain allowed", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AllowedDomains = []string{"api.evil.com"}
		v := newTestVerifier(t, cfg)

		out := v.Verify(context.Background(), plan, nil)
		assert.True(t, out.Allow)
	})
}

func TestVerifyEthicsEngineDegrades(t *testing.T) {
	t.Run("erroring engine never aborts", func(t *testing.T) {
		v := newTestVerifier(t, nil, WithEthicsEngine(stubEthics{err: errors.New("upstream down")}))
		out := v.Verify(context.Background(), benignPlan(), nil)
		assert.True(t, out.Allow)
	})

	t.Run("deny-list still applies when engine errors", func(t *testing.T) {
		v := newTestVerifier(t, nil, WithEthicsEngine(stubEthics{err: errors.New("upstream down")}))
		plan := contracts.ActionPlan{"action": "drop_database", "params": map[string]any{}}
		out := v.Verify(context.Background(), plan, nil)
		assert.False(t, out.Allow)
	})

	t.Run("warn verdict adds guardrails without blocking", func(t *testing.T) {
		v := newTestVerifier(t, nil, WithEthicsEngine(stubEthics{
			verdict: &contracts.EthicsVerdict{Action: contracts.EthicsWarn, Reasons: []string{"sensitive scope"}},
		}))
		out := v.Verify(context.Background(), benignPlan(), nil)
		assert.True(t, out.Allow)
		assert.Equal(t, contracts.BandAllowWithGuardrails, out.GuardianBand)
		assert.NotEmpty(t, out.Guardrails)
	})
}

func TestVerifyFailClosedOnPanic(t *testing.T) {
	v := newTestVerifier(t, nil, WithEthicsEngine(panickingEthics{}))

	out := v.Verify(context.Background(), benignPlan(), nil)

	assert.False(t, out.Allow)
	assert.Equal(t, []string{"verification_error"}, out.Reasons)
	assert.Equal(t, contracts.BandBlock, out.GuardianBand)
	assert.Equal(t, 1.0, out.DriftScore)
	assert.NotEmpty(t, out.PlanHash)
}

func TestVerifyCounterfactualWhenNotEnforced(t *testing.T) {
	cfg := testConfig(t)
	cfg.CanaryPercent = 0
	mem := ledger.NewMemory(10)
	v := newTestVerifier(t, cfg, WithGovernance(mem))

	plan := contracts.ActionPlan{"action": "delete_user_data", "params": map[string]any{}}
	out := v.Verify(context.Background(), plan, nil)

	assert.True(t, out.Allow, "shadow mode never blocks")
	assert.Equal(t, contracts.BandBlock, out.GuardianBand)
	require.Len(t, out.Counterfactuals, 1)
	cf := out.Counterfactuals[0]
	assert.True(t, cf.WouldBlock)
	assert.Equal(t, contracts.BandBlock, cf.Band)
	assert.Contains(t, cf.Reason, "outside canary percentage")

	// Non-ALLOW band still reaches the governance ledger in shadow mode.
	assert.Equal(t, 1, mem.Len())
}

func TestVerifyWithGuardianEngine(t *testing.T) {
	g := guardian.NewEngine(guardian.DefaultConfig(), nil)
	v := newTestVerifier(t, nil,
		WithGuardian(g),
		WithEthicsEngine(stubEthics{verdict: &contracts.EthicsVerdict{
			Action:         contracts.EthicsBlock,
			Reasons:        []string{"policy forbids this action"},
			TriggeredRules: []string{"rule-7"},
		}}),
	)

	out := v.Verify(context.Background(), benignPlan(), &contracts.VerificationContext{UserID: "u1", SessionID: "s1"})

	assert.False(t, out.Allow)
	assert.Equal(t, contracts.BandBlock, out.GuardianBand)
	require.NotEmpty(t, out.Reasons)
	assert.Contains(t, out.Reasons[0], "guardian band BLOCK")
	assert.Equal(t, contracts.BandBlock, g.CurrentBand())
}

func TestVerifyGuardianWithoutEthicsKeepsDenyList(t *testing.T) {
	g := guardian.NewEngine(guardian.DefaultConfig(), nil)
	v := newTestVerifier(t, nil, WithGuardian(g))

	plan := contracts.ActionPlan{"action": "delete_user_data", "params": map[string]any{}}
	out := v.Verify(context.Background(), plan, &contracts.VerificationContext{UserID: "u1", SessionID: "s1"})

	assert.False(t, out.Allow, "deny-list must survive wiring a guardian engine")
	assert.Equal(t, contracts.BandBlock, out.GuardianBand)
	require.NotEmpty(t, out.Reasons)
	assert.Contains(t, out.Reasons[0], "guardian band BLOCK")
	assert.InDelta(t, 0.5, out.DriftScore, 1e-9, "ethics penalty alone drives the score")
}

func TestVerifyDeterminism(t *testing.T) {
	v := newTestVerifier(t, nil)
	ctx := context.Background()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("identical plans verify identically", prop.ForAll(
		func(action, value string) bool {
			plan := contracts.ActionPlan{
				"action": action,
				"params": map[string]any{"note": value},
			}
			first := v.Verify(ctx, plan, &contracts.VerificationContext{UserID: "u1", SessionID: "s1", RequestID: "r1"})
			second := v.Verify(ctx, plan, &contracts.VerificationContext{UserID: "u1", SessionID: "s1", RequestID: "r1"})
			return first.Allow == second.Allow &&
				first.PlanHash == second.PlanHash &&
				reflect.DeepEqual(first.Reasons, second.Reasons)
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestVerifyOutcomeHistoryBounded(t *testing.T) {
	v := newTestVerifier(t, nil)
	ctx := context.Background()

	for i := 0; i < maxOutcomeHistory+5; i++ {
		plan := contracts.ActionPlan{
			"action": "noop",
			"params": map[string]any{"seq": strconv.Itoa(i)},
		}
		v.Verify(ctx, plan, nil)
	}

	outcomes := v.Outcomes()
	assert.Len(t, outcomes, maxOutcomeHistory)
}

func TestVerifyAllowedPlanSkipsLedger(t *testing.T) {
	mem := ledger.NewMemory(10)
	v := newTestVerifier(t, nil, WithGovernance(mem))

	out := v.Verify(context.Background(), benignPlan(), nil)

	assert.True(t, out.Allow)
	assert.Equal(t, 0, mem.Len())
}

func TestGuardianConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DriftBlock = 0.9
	cfg.FallbackBand = "REQUIRE_HUMAN"

	gc, err := GuardianConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.9, gc.Thresholds.Block)
	assert.Equal(t, 60*time.Second, gc.Thresholds.HumanHold)
	assert.Equal(t, contracts.BandRequireHuman, gc.FallbackBand)

	cfg.DriftGuardrails = 0.8 // above human threshold
	_, err = GuardianConfig(cfg)
	assert.Error(t, err)
}

func TestVerifyNilContext(t *testing.T) {
	v := newTestVerifier(t, nil)
	out := v.Verify(context.Background(), benignPlan(), nil)
	assert.True(t, out.Allow)
	assert.NotEmpty(t, out.PlanHash)
}
