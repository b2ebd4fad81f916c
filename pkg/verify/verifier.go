// Package verify implements the plan admission pipeline: structural
// validation, safety-tag enrichment, ethics/guardian evaluation with
// canary-gated enforcement, and hard resource, loop, and domain-allow-list
// limits.
//
// Verify is deterministic for a fixed (plan, user, session) and fails
// closed: any internal panic resolves to a deny, never to an allow.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clearline-labs/warden/pkg/canary"
	"github.com/clearline-labs/warden/pkg/canonicalize"
	"github.com/clearline-labs/warden/pkg/config"
	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/enrich"
	"github.com/clearline-labs/warden/pkg/ethics"
	"github.com/clearline-labs/warden/pkg/guardian"
	"github.com/clearline-labs/warden/pkg/ledger"
	"github.com/clearline-labs/warden/pkg/normalize"
	"github.com/clearline-labs/warden/pkg/observability"
)

// maxOutcomeHistory bounds the in-memory outcome history, FIFO.
const maxOutcomeHistory = 1000

// planSchemaJSON is the structural contract every plan must meet before
// any other check runs.
const planSchemaJSON = `{
	"type": "object",
	"required": ["action", "params"],
	"properties": {
		"action": {"type": "string", "minLength": 1},
		"params": {"type": "object"}
	}
}`

var planSchema = jsonschema.MustCompileString("https://warden.schemas.local/plan.schema.json", planSchemaJSON)

// Verifier runs the admission pipeline. Stateless per call apart from the
// bounded outcome history; safe for concurrent use.
type Verifier struct {
	cfg      *config.Config
	enricher *enrich.Enricher
	ethics   ethics.Engine
	guardian *guardian.Engine
	rollout  *canary.Controller
	fallback *ethics.DenyListEngine

	governance ledger.Governance
	metrics    *observability.Provider
	logger     *slog.Logger

	mu       sync.Mutex
	outcomes []contracts.VerificationOutcome
}

// Option configures a Verifier.
type Option func(*Verifier) error

// WithEthicsEngine plugs in the external ethics rule engine. Absent, the
// built-in deny-list is the only ethics signal.
func WithEthicsEngine(e ethics.Engine) Option {
	return func(v *Verifier) error {
		v.ethics = e
		return nil
	}
}

// WithGuardian attaches the drift band engine. Without one the verifier
// falls back to deny-list plus ethics verdicts.
func WithGuardian(g *guardian.Engine) Option {
	return func(v *Verifier) error {
		v.guardian = g
		return nil
	}
}

// WithRollout replaces the canary controller built from config.
func WithRollout(c *canary.Controller) Option {
	return func(v *Verifier) error {
		v.rollout = c
		return nil
	}
}

// WithGovernance attaches the audit ledger. Emission is best-effort.
func WithGovernance(g ledger.Governance) Option {
	return func(v *Verifier) error {
		v.governance = g
		return nil
	}
}

// WithMetrics attaches a metrics provider. Nil is a valid no-op sink.
func WithMetrics(p *observability.Provider) Option {
	return func(v *Verifier) error {
		v.metrics = p
		return nil
	}
}

// WithEnricher replaces the default enricher.
func WithEnricher(e *enrich.Enricher) Option {
	return func(v *Verifier) error {
		v.enricher = e
		return nil
	}
}

// New creates a Verifier. A nil cfg loads from the environment.
func New(cfg *config.Config, opts ...Option) (*Verifier, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	v := &Verifier{
		cfg:      cfg,
		rollout:  canary.New(rolloutConfig(cfg)),
		fallback: ethics.NewDenyListEngine(nil),
		logger:   slog.Default().With("component", "verify"),
	}

	cacheCap := cfg.TagCacheCapacity
	if !cfg.TagCacheEnabled {
		cacheCap = 0
	}
	enricher, err := enrich.New(enrich.WithCacheCapacity(cacheCap))
	if err != nil {
		return nil, fmt.Errorf("verify: enricher init failed: %w", err)
	}
	v.enricher = enricher

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if v.enricher != enricher {
		enricher.Close()
	}
	return v, nil
}

// GuardianConfig maps the engine configuration onto guardian tunables,
// for hosts constructing the drift engine from the same environment.
func GuardianConfig(cfg *config.Config) (guardian.Config, error) {
	thresholds, err := contracts.NewGuardianThresholds(
		cfg.DriftGuardrails, cfg.DriftHuman, cfg.DriftBlock,
		cfg.GuardrailsHold, cfg.HumanHold, cfg.BlockHold)
	if err != nil {
		return guardian.Config{}, fmt.Errorf("verify: guardian thresholds: %w", err)
	}
	gc := guardian.DefaultConfig()
	gc.Thresholds = thresholds
	gc.FallbackBand = contracts.ParseBand(cfg.FallbackBand)
	return gc, nil
}

// rolloutConfig maps the flat engine config onto the canary controls.
func rolloutConfig(cfg *config.Config) canary.Config {
	return canary.Config{
		Enabled:         cfg.EnforcementEnabled,
		Percent:         cfg.CanaryPercent,
		EnforcedLanes:   cfg.EnforcedLanes,
		DefaultLane:     cfg.DefaultLane,
		KillSwitchPath:  cfg.KillSwitchPath,
		MinApproverTier: cfg.MinApproverTier,
	}
}

// Verify runs the full admission pipeline over one plan. It never panics:
// internal failures resolve to a deny with reason "verification_error".
// Structural violations short-circuit; every later check runs and all
// violations accumulate, so the caller sees the complete picture.
func (v *Verifier) Verify(ctx context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext) (out *contracts.VerificationOutcome) {
	start := time.Now()
	if vctx == nil {
		vctx = &contracts.VerificationContext{Timestamp: start}
	}
	planHash := canonicalize.PlanHash(plan, vctx.UserID, vctx.SessionID)

	var matchedRules []string
	defer func() {
		if r := recover(); r != nil {
			v.logger.ErrorContext(ctx, "verification panicked, failing closed",
				"plan_hash", planHash, "panic", fmt.Sprint(r))
			out = &contracts.VerificationOutcome{
				Allow:        false,
				Reasons:      []string{"verification_error"},
				PlanHash:     planHash,
				GuardianBand: contracts.BandBlock,
				DriftScore:   1.0,
			}
		}
		v.finish(ctx, out, plan, vctx, matchedRules, start)
	}()

	out = &contracts.VerificationOutcome{PlanHash: planHash}

	if violations := checkStructure(plan); len(violations) > 0 {
		out.Reasons = violations
		out.GuardianBand = contracts.BandBlock
		return out
	}

	tagged := v.enrichPlan(ctx, plan, vctx)
	out.SafetyTags = tagged.Tags
	vctx.SetMeta("safety_tags", tagged.TagNames())

	var violations []string
	bandViolations, rules := v.evaluateBand(ctx, plan, vctx, planHash, out)
	matchedRules = rules
	violations = append(violations, bandViolations...)
	violations = append(violations, v.checkResources(plan)...)
	violations = append(violations, v.checkLoops(plan)...)
	violations = append(violations, v.checkDomains(plan, tagged)...)

	out.Allow = len(violations) == 0
	out.Reasons = violations
	return out
}

// checkStructure validates the plan against the compiled schema. Any
// failure aborts the pipeline: nothing downstream can interpret a
// malformed plan safely.
func checkStructure(plan contracts.ActionPlan) []string {
	if plan == nil {
		return []string{"plan structure: plan is missing"}
	}
	if err := planSchema.Validate(map[string]any(plan)); err != nil {
		return structureViolations(err)
	}
	return nil
}

// structureViolations flattens a schema validation error into one reason
// per leaf cause.
func structureViolations(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{"plan structure: " + err.Error()}
	}
	var out []string
	for _, leaf := range leafCauses(ve) {
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("plan structure: %s %s", loc, leaf.Message))
	}
	return out
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

// enrichPlan invokes the tag battery. Enrichment can never abort
// verification; a crashing enricher degrades to an empty tag set.
func (v *Verifier) enrichPlan(ctx context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext) (tagged *contracts.TaggedPlan) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.WarnContext(ctx, "enrichment panicked, continuing without tags", "panic", fmt.Sprint(r))
			tagged = &contracts.TaggedPlan{Plan: plan}
		}
	}()
	if v.enricher == nil {
		return &contracts.TaggedPlan{Plan: plan}
	}
	return v.enricher.Enrich(ctx, plan, vctx)
}

// evaluateBand runs the ethics and guardian stage. Restrictive bands
// become violations only when enforcement is active for this request;
// otherwise the would-have-blocked decision is kept as a counterfactual.
func (v *Verifier) evaluateBand(ctx context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext, planHash string, out *contracts.VerificationOutcome) (violations, matched []string) {
	verdict := v.ethicsVerdict(ctx, plan, vctx)

	var band contracts.GuardianBandResult
	if v.guardian != nil {
		band = v.guardian.Evaluate(ctx, guardian.EvalInput{
			PlanHash: planHash,
			Plan:     plan,
			Context:  vctx,
			Verdict:  verdict,
		})
	} else {
		// No guardian configured: the built-in deny-list plus any ethics
		// verdict decide directly.
		denial, _ := v.fallback.Evaluate(ctx, plan, vctx)
		verdict = strictest(verdict, denial)
		band = bandFromVerdict(verdict)
	}

	out.GuardianBand = band.Band
	out.DriftScore = band.DriftScore
	out.Guardrails = band.Guardrails
	out.HumanRequirements = band.HumanRequirements
	if verdict != nil {
		matched = verdict.TriggeredRules
	}

	if band.Band < contracts.BandRequireHuman {
		return nil, matched
	}

	active, skipReason := v.rollout.EnforcementActive(planHash, vctx)
	if !active {
		v.logger.InfoContext(ctx, "enforcement inactive, recording counterfactual",
			"plan_hash", planHash, "band", band.Band.String(), "reason", skipReason)
		out.Counterfactuals = append(out.Counterfactuals, contracts.CounterfactualDecision{
			PlanHash:   planHash,
			Band:       band.Band,
			WouldBlock: true,
			Reason:     fmt.Sprintf("%s (%s)", band.Reason, skipReason),
			Timestamp:  time.Now(),
		})
		return nil, matched
	}
	return []string{fmt.Sprintf("guardian band %s: %s", band.Band, band.Reason)}, matched
}

// ethicsVerdict resolves the ethics signal for one plan. The configured
// engine is untrusted: absence or an error degrades to the built-in
// deny-list, so the safety net holds regardless of how the verifier is
// assembled.
func (v *Verifier) ethicsVerdict(ctx context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext) *contracts.EthicsVerdict {
	if v.ethics == nil {
		verdict, _ := v.fallback.Evaluate(ctx, plan, vctx)
		return verdict
	}
	verdict, err := v.ethics.Evaluate(ctx, plan, vctx)
	if err != nil {
		v.logger.WarnContext(ctx, "ethics engine failed, degrading to deny-list", "error", err)
		verdict, _ = v.fallback.Evaluate(ctx, plan, vctx)
		return verdict
	}
	return verdict
}

// strictest picks the more severe of two verdicts.
func strictest(a, b *contracts.EthicsVerdict) *contracts.EthicsVerdict {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if severity(b.Action) > severity(a.Action) {
		return b
	}
	return a
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

// bandFromVerdict is the degraded band mapping used without a guardian
// engine: BLOCK verdicts block, WARN verdicts get guardrails.
func bandFromVerdict(verdict *contracts.EthicsVerdict) contracts.GuardianBandResult {
	if verdict == nil {
		return contracts.GuardianBandResult{Band: contracts.BandAllow}
	}
	switch verdict.Action {
	case contracts.EthicsBlock:
		return contracts.GuardianBandResult{
			Band:       contracts.BandBlock,
			DriftScore: 1.0,
			Reason:     "ethics violation: " + strings.Join(verdict.Reasons, "; "),
		}
	case contracts.EthicsWarn:
		return contracts.GuardianBandResult{
			Band:       contracts.BandAllowWithGuardrails,
			DriftScore: 0.5,
			Reason:     "ethics warning: " + strings.Join(verdict.Reasons, "; "),
			Guardrails: []string{"enable_audit_logging", "require_output_validation"},
		}
	default:
		return contracts.GuardianBandResult{Band: contracts.BandAllow}
	}
}

// checkResources enforces the hard ceilings on declared execution cost.
func (v *Verifier) checkResources(plan contracts.ActionPlan) []string {
	params := plan.Params()
	var out []string
	if d, ok := numParam(params, "estimated_duration_seconds"); ok && d > v.cfg.MaxEstimatedSeconds {
		out = append(out, fmt.Sprintf("estimated duration %.0fs exceeds limit %.0fs", d, v.cfg.MaxEstimatedSeconds))
	}
	if m, ok := numParam(params, "estimated_memory_mb"); ok && m > float64(v.cfg.MaxMemoryMB) {
		out = append(out, fmt.Sprintf("estimated memory %.0fMB exceeds limit %dMB", m, v.cfg.MaxMemoryMB))
	}
	if b, ok := numParam(params, "batch_size"); ok && b > float64(v.cfg.MaxBatchSize) {
		out = append(out, fmt.Sprintf("batch size %.0f exceeds limit %d", b, v.cfg.MaxBatchSize))
	}
	return out
}

// checkLoops enforces iteration and recursion ceilings.
func (v *Verifier) checkLoops(plan contracts.ActionPlan) []string {
	params := plan.Params()
	var out []string
	if n, ok := numParam(params, "iterations"); ok && n > float64(v.cfg.MaxIterations) {
		out = append(out, fmt.Sprintf("iteration count %.0f exceeds limit %d", n, v.cfg.MaxIterations))
	}
	if d, ok := numParam(params, "recursion_depth"); ok && d > float64(v.cfg.MaxRecursionDepth) {
		out = append(out, fmt.Sprintf("recursion depth %.0f exceeds limit %d", d, v.cfg.MaxRecursionDepth))
	}
	return out
}

// checkDomains requires every destination of an external-call plan to sit
// in the configured allow-list. No allow-list means no external calls.
func (v *Verifier) checkDomains(plan contracts.ActionPlan, tagged *contracts.TaggedPlan) []string {
	if !hasTag(tagged, "external_call") {
		return nil
	}
	domains := enrich.ExtractDomains(normalize.Collect(plan))
	var out []string
	for _, d := range domains {
		if !v.domainAllowed(d) {
			out = append(out, fmt.Sprintf("external call to %q not in domain allow-list", d))
		}
	}
	return out
}

func (v *Verifier) domainAllowed(domain string) bool {
	for _, allowed := range v.cfg.AllowedDomains {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}

func hasTag(tagged *contracts.TaggedPlan, name string) bool {
	for _, t := range tagged.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// numParam reads a numeric parameter regardless of how the caller's
// decoder typed it.
func numParam(params map[string]any, key string) (float64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// finish records the outcome, emits metrics, and feeds the governance
// ledger for non-ALLOW decisions. Ledger failure is logged, never fatal.
func (v *Verifier) finish(ctx context.Context, out *contracts.VerificationOutcome, plan contracts.ActionPlan, vctx *contracts.VerificationContext, matchedRules []string, start time.Time) {
	v.recordOutcome(out)
	v.metrics.RecordVerification(ctx, out.Allow, reasonClass(out.Reasons))
	v.metrics.RecordVerifyDuration(ctx, time.Since(start))

	if out.Allow && out.GuardianBand == contracts.BandAllow {
		return
	}
	if v.governance == nil {
		return
	}
	d := ledger.Decision{
		ID:            uuid.NewString(),
		PlanHash:      out.PlanHash,
		ActorID:       vctx.UserID,
		Action:        plan.Action(),
		MatchedRules:  matchedRules,
		Tags:          out.SafetyTags,
		Band:          out.GuardianBand.String(),
		Lane:          vctx.Lane(v.cfg.DefaultLane),
		Justification: strings.Join(out.Reasons, "; "),
		Timestamp:     time.Now(),
	}
	if err := v.governance.Record(ctx, d); err != nil {
		v.logger.WarnContext(ctx, "governance ledger emission failed",
			"plan_hash", out.PlanHash, "error", err)
	}
}

func (v *Verifier) recordOutcome(out *contracts.VerificationOutcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outcomes = append(v.outcomes, *out)
	if overflow := len(v.outcomes) - maxOutcomeHistory; overflow > 0 {
		v.outcomes = v.outcomes[overflow:]
	}
}

// Outcomes returns a copy of the retained outcome history.
func (v *Verifier) Outcomes() []contracts.VerificationOutcome {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]contracts.VerificationOutcome, len(v.outcomes))
	copy(out, v.outcomes)
	return out
}

// Close releases the enricher's cache.
func (v *Verifier) Close() {
	if v.enricher != nil {
		v.enricher.Close()
	}
}

// reasonClass buckets reasons for the verification counter attribute.
func reasonClass(reasons []string) string {
	if len(reasons) == 0 {
		return "none"
	}
	r := reasons[0]
	switch {
	case strings.HasPrefix(r, "plan structure"):
		return "structural"
	case strings.HasPrefix(r, "guardian band"):
		return "guardian"
	case r == "verification_error":
		return "internal"
	default:
		return "limits"
	}
}
