package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/observability"
)

// Config holds the engine's tunables. The zero value is not usable; call
// DefaultConfig and adjust.
type Config struct {
	Thresholds contracts.GuardianThresholds
	Weights    DriftWeights

	// BlockOnEthicsBlock short-circuits to BLOCK on an ethics BLOCK
	// verdict regardless of drift score.
	BlockOnEthicsBlock bool

	// FallbackBand is returned on any internal evaluation failure.
	FallbackBand contracts.GuardianBand

	// AccelDelta is the score rise within AccelWindow that counts as
	// drift acceleration.
	AccelDelta  float64
	AccelWindow time.Duration

	// MaxTransitions bounds the retained transition history.
	MaxTransitions int
}

// DefaultConfig returns the production defaults: thresholds 0.15/0.35/0.7,
// holds 30s/60s/300s, fail-closed to BLOCK.
func DefaultConfig() Config {
	return Config{
		Thresholds:         contracts.DefaultGuardianThresholds(),
		Weights:            DefaultDriftWeights(),
		BlockOnEthicsBlock: true,
		FallbackBand:       contracts.BandBlock,
		AccelDelta:         0.25,
		AccelWindow:        5 * time.Minute,
		MaxTransitions:     1000,
	}
}

// EvalInput is one evaluation request.
type EvalInput struct {
	PlanHash string
	Plan     contracts.ActionPlan
	Context  *contracts.VerificationContext
	Verdict  *contracts.EthicsVerdict

	// SuppliedDrift, when non-nil, bypasses drift computation.
	SuppliedDrift *float64
}

// Engine is the drift band state machine. Band state represents one
// enforcement posture for the whole service, so one engine instance is
// shared and all evaluations serialize on its lock.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	clock   Clock
	metrics *observability.Provider
	logger  *slog.Logger

	current        contracts.GuardianBand
	lastTransition time.Time
	holdUntil      map[contracts.GuardianBand]time.Time
	transitions    []contracts.BandTransition
	drift          []driftSample
}

// NewEngine creates an engine at BandAllow. A nil clock uses wall time.
func NewEngine(cfg Config, clock Clock) *Engine {
	if clock == nil {
		clock = wallClock{}
	}
	if cfg.MaxTransitions <= 0 {
		cfg.MaxTransitions = 1000
	}
	return &Engine{
		cfg:            cfg,
		clock:          clock,
		logger:         slog.Default().With("component", "guardian"),
		current:        contracts.BandAllow,
		lastTransition: clock.Now(),
		holdUntil:      make(map[contracts.GuardianBand]time.Time),
	}
}

// SetMetrics attaches a metrics provider after construction.
func (e *Engine) SetMetrics(p *observability.Provider) { e.metrics = p }

// Evaluate runs one band evaluation under the engine lock. It never
// panics to the caller: internal failures return the configured fallback
// band with drift 1.0.
func (e *Engine) Evaluate(ctx context.Context, in EvalInput) (result contracts.GuardianBandResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "guardian evaluation failed, returning fallback band",
				"fallback", e.cfg.FallbackBand.String(), "panic", fmt.Sprint(r))
			result = contracts.GuardianBandResult{
				Band:       e.cfg.FallbackBand,
				DriftScore: 1.0,
				Reason:     "guardian internal error",
			}
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.drift = pruneWindow(e.drift, now, e.cfg.AccelWindow)

	var score float64
	var accelerated bool
	if in.SuppliedDrift != nil {
		score = clamp01(*in.SuppliedDrift)
	} else {
		score, accelerated = computeDrift(e.cfg.Weights, in.Verdict, len(in.Plan.Params()), in.Context, e.drift, e.cfg.AccelDelta)
	}
	e.drift = append(e.drift, driftSample{at: now, score: score})
	e.metrics.RecordDrift(ctx, score)

	target, trigger := resolveTarget(score, e.cfg.Thresholds, in.Verdict, e.cfg.BlockOnEthicsBlock, accelerated)
	next, trigger, transitioned := applyHysteresis(e.current, target, trigger, e.holdUntil, now)

	reason := e.transitionReason(next, target, score, transitioned)
	e.record(ctx, contracts.BandTransition{
		Timestamp:    now,
		FromBand:     e.current,
		ToBand:       next,
		Trigger:      trigger,
		DriftScore:   score,
		EthicsAction: ethicsAction(in.Verdict),
		PlanHash:     in.PlanHash,
		Reason:       reason,
	}, transitioned)

	if transitioned {
		if next > e.current {
			// Entering a more restrictive band arms its hold timer.
			e.holdUntil[next] = now.Add(e.cfg.Thresholds.HoldFor(next))
		}
		e.current = next
		e.lastTransition = now
	}

	guardrails, human := requirements(next, score, e.cfg.Thresholds, in.Verdict)
	return contracts.GuardianBandResult{
		Band:              next,
		DriftScore:        score,
		Guardrails:        guardrails,
		HumanRequirements: human,
		Reason:            reason,
	}
}

// CurrentBand returns the band currently held.
func (e *Engine) CurrentBand() contracts.GuardianBand {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Transitions returns a copy of the retained transition history.
func (e *Engine) Transitions() []contracts.BandTransition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]contracts.BandTransition, len(e.transitions))
	copy(out, e.transitions)
	return out
}

// RecordManualOverride appends an audit transition for an approved
// dual-approval override. The held band is not changed: the override
// applies to one plan, not to the service posture.
func (e *Engine) RecordManualOverride(ctx context.Context, planHash, rationale string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(ctx, contracts.BandTransition{
		Timestamp: e.clock.Now(),
		FromBand:  e.current,
		ToBand:    e.current,
		Trigger:   contracts.TriggerManualOverride,
		PlanHash:  planHash,
		Reason:    rationale,
	}, false)
}

// Reset forces the engine back to BandAllow, clearing hold timers. For
// operator-driven recovery after an incident is resolved.
func (e *Engine) Reset(ctx context.Context, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	e.record(ctx, contracts.BandTransition{
		Timestamp: now,
		FromBand:  e.current,
		ToBand:    contracts.BandAllow,
		Trigger:   contracts.TriggerSystemRecovery,
		Reason:    reason,
	}, e.current != contracts.BandAllow)
	e.current = contracts.BandAllow
	e.lastTransition = now
	e.holdUntil = make(map[contracts.GuardianBand]time.Time)
}

// record appends to the bounded transition history; only real transitions
// emit metrics.
func (e *Engine) record(ctx context.Context, t contracts.BandTransition, transitioned bool) {
	e.transitions = append(e.transitions, t)
	if overflow := len(e.transitions) - e.cfg.MaxTransitions; overflow > 0 {
		e.transitions = e.transitions[overflow:]
	}
	if transitioned {
		e.metrics.RecordBandTransition(ctx, t.FromBand.String(), t.ToBand.String(), string(t.Trigger))
	}
}

func (e *Engine) transitionReason(next, target contracts.GuardianBand, score float64, transitioned bool) string {
	switch {
	case transitioned && next > e.current:
		return fmt.Sprintf("drift %.2f entered %s", score, next)
	case transitioned:
		return fmt.Sprintf("hysteresis expired, relaxed to %s (drift %.2f)", next, score)
	case target < next:
		return fmt.Sprintf("held %s under hysteresis (target %s, drift %.2f)", next, target, score)
	default:
		return fmt.Sprintf("holding %s (drift %.2f)", next, score)
	}
}

func ethicsAction(v *contracts.EthicsVerdict) contracts.EthicsAction {
	if v == nil {
		return contracts.EthicsAllow
	}
	return v.Action
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
