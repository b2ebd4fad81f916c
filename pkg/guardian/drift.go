// Package guardian implements the drift band state machine: it fuses an
// ethics verdict with a continuously computed drift score into one of four
// ordered action bands, with monotone-up, hysteresis-down transitions.
//
// Transition logic lives in pure functions over state snapshots; the Engine
// only adds the lock and the history bookkeeping, so the decision rules are
// independently testable.
package guardian

import (
	"time"

	"github.com/clearline-labs/warden/pkg/contracts"
)

// Clock provides time to the engine. Inject a fake in tests; hysteresis
// behavior is entirely clock-driven.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// DriftWeights control how the drift score components combine. They sum to
// 1.0 so the score stays within [0,1] before clamping.
type DriftWeights struct {
	Ethics       float64
	Complexity   float64
	Context      float64
	Acceleration float64
}

// DefaultDriftWeights weight the ethics verdict heaviest: a BLOCK verdict
// alone carries the score past the human threshold.
func DefaultDriftWeights() DriftWeights {
	return DriftWeights{Ethics: 0.5, Complexity: 0.2, Context: 0.1, Acceleration: 0.2}
}

// driftSample is one recorded drift score with its observation time.
type driftSample struct {
	at    time.Time
	score float64
}

// ethicsPenalty maps a verdict to its drift contribution.
func ethicsPenalty(verdict *contracts.EthicsVerdict) float64 {
	if verdict == nil {
		return 0
	}
	switch verdict.Action {
	case contracts.EthicsBlock:
		return 1.0
	case contracts.EthicsWarn:
		return 0.5
	default:
		return 0
	}
}

// complexityPenalty scales with the parameter count: large plans carry more
// unreviewed surface.
func complexityPenalty(paramCount int) float64 {
	switch {
	case paramCount > 20:
		return 1.0
	case paramCount > 10:
		return 0.5
	case paramCount > 5:
		return 0.25
	default:
		return 0
	}
}

// contextPenalty charges for missing caller identity: anonymous traffic is
// harder to attribute and remediate.
func contextPenalty(vctx *contracts.VerificationContext) float64 {
	p := 0.0
	if vctx == nil || vctx.UserID == "" {
		p += 0.5
	}
	if vctx == nil || vctx.SessionID == "" {
		p += 0.5
	}
	return p
}

// accelerationPenalty returns 1.0 when the base score has risen by more
// than delta above the oldest sample still inside the window.
func accelerationPenalty(history []driftSample, base float64, delta float64) float64 {
	if len(history) == 0 {
		return 0
	}
	oldest := history[0].score
	if base-oldest > delta {
		return 1.0
	}
	return 0
}

// computeDrift combines the weighted penalties into a clamped [0,1] score.
// accelerated reports whether the acceleration component contributed.
func computeDrift(w DriftWeights, verdict *contracts.EthicsVerdict, paramCount int, vctx *contracts.VerificationContext, history []driftSample, accelDelta float64) (score float64, accelerated bool) {
	base := w.Ethics*ethicsPenalty(verdict) +
		w.Complexity*complexityPenalty(paramCount) +
		w.Context*contextPenalty(vctx)

	accel := accelerationPenalty(history, base, accelDelta)
	score = base + w.Acceleration*accel
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, accel > 0
}

// pruneWindow drops samples older than window. Sliding time window, not a
// count cap: acceleration compares against what actually happened recently.
func pruneWindow(history []driftSample, now time.Time, window time.Duration) []driftSample {
	cutoff := now.Add(-window)
	i := 0
	for i < len(history) && history[i].at.Before(cutoff) {
		i++
	}
	return history[i:]
}

// resolveTarget maps the drift score to its instantaneous target band.
// An ethics BLOCK short-circuits to BLOCK regardless of score when
// blockOnEthics is set.
func resolveTarget(score float64, t contracts.GuardianThresholds, verdict *contracts.EthicsVerdict, blockOnEthics, accelerated bool) (contracts.GuardianBand, contracts.TransitionTrigger) {
	if blockOnEthics && verdict != nil && verdict.Action == contracts.EthicsBlock {
		return contracts.BandBlock, contracts.TriggerEthicsViolation
	}

	trigger := contracts.TriggerDriftThreshold
	if accelerated {
		trigger = contracts.TriggerDriftAcceleration
	}
	switch {
	case score >= t.Block:
		return contracts.BandBlock, trigger
	case score >= t.Human:
		return contracts.BandRequireHuman, trigger
	case score >= t.Guardrails:
		return contracts.BandAllowWithGuardrails, trigger
	default:
		return contracts.BandAllow, trigger
	}
}

// applyHysteresis decides the band actually held after this sample.
//
// Upward moves apply immediately. Downward moves apply only once the hold
// timer armed when the current band was entered has expired; until then the
// current band is retained even though the instantaneous target is lower.
func applyHysteresis(current, target contracts.GuardianBand, trigger contracts.TransitionTrigger, holdUntil map[contracts.GuardianBand]time.Time, now time.Time) (next contracts.GuardianBand, outTrigger contracts.TransitionTrigger, transitioned bool) {
	switch {
	case target > current:
		return target, trigger, true
	case target < current:
		if expiry, armed := holdUntil[current]; armed && now.Before(expiry) {
			return current, trigger, false
		}
		return target, contracts.TriggerHysteresisDecay, true
	default:
		return current, trigger, false
	}
}
