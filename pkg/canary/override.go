package canary

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/ledger"
	"github.com/clearline-labs/warden/pkg/tiers"
)

// OverrideAuditor receives approved overrides for the transition history.
// Satisfied by the guardian engine.
type OverrideAuditor interface {
	RecordManualOverride(ctx context.Context, planHash, rationale string)
}

// Overrides validates dual-approval requests to unblock a BLOCK result.
type Overrides struct {
	cfg        Config
	tiers      tiers.Lookup
	auditor    OverrideAuditor
	governance ledger.Governance
	logger     *slog.Logger
}

// NewOverrides creates the override workflow. lookup must not be nil;
// auditor may be (no transition history is kept then).
func NewOverrides(cfg Config, lookup tiers.Lookup, auditor OverrideAuditor) *Overrides {
	return &Overrides{
		cfg:     cfg,
		tiers:   lookup,
		auditor: auditor,
		logger:  slog.Default().With("component", "canary"),
	}
}

// SetGovernance attaches the governance ledger. Every override request,
// denied or approved, then emits a decision record carrying the request.
func (o *Overrides) SetGovernance(g ledger.Governance) { o.governance = g }

// RequestBlockOverride validates the two approver identities and, when
// both qualify, produces an ALLOW result annotated for audit. Any
// validation failure returns a denied result with the reason preserved —
// never a silent allow.
func (o *Overrides) RequestBlockOverride(ctx context.Context, req contracts.OverrideRequest) contracts.GuardianBandResult {
	denied := func(reason string) contracts.GuardianBandResult {
		o.logger.Warn("block override denied",
			"plan_hash", req.PlanHash, "reason", reason,
			"approver1", req.Approver1ID, "approver2", req.Approver2ID)
		result := contracts.GuardianBandResult{
			Band:              contracts.BandBlock,
			DriftScore:        1.0,
			OverrideRequested: true,
			OverrideApproved:  false,
			Reason:            reason,
		}
		o.emit(ctx, req, result)
		return result
	}

	if req.Approver1ID == "" || req.Approver2ID == "" {
		return denied("override requires two approver identities")
	}
	if req.Approver1ID == req.Approver2ID {
		return denied("override approvers must be distinct")
	}
	if o.tiers == nil {
		return denied("no trust tier lookup configured")
	}
	for _, id := range []string{req.Approver1ID, req.Approver2ID} {
		if tier := o.tiers.TierOf(id); tier < o.cfg.MinApproverTier {
			return denied("approver " + id + " below minimum trust tier")
		}
	}

	eventID := uuid.New().String()
	o.logger.Info("block override approved",
		"event_id", eventID,
		"plan_hash", req.PlanHash,
		"approver1", req.Approver1ID,
		"approver2", req.Approver2ID,
		"rationale", req.Rationale)
	if o.auditor != nil {
		o.auditor.RecordManualOverride(ctx, req.PlanHash, req.Rationale)
	}

	result := contracts.GuardianBandResult{
		Band:              contracts.BandAllow,
		OverrideRequested: true,
		OverrideApproved:  true,
		OverrideRationale: req.Rationale,
		ApproverIDs:       []string{req.Approver1ID, req.Approver2ID},
		Reason:            "block override approved by dual sign-off",
	}
	o.emit(ctx, req, result)
	return result
}

// emit feeds the governance ledger, best-effort: a ledger failure never
// changes the override outcome.
func (o *Overrides) emit(ctx context.Context, req contracts.OverrideRequest, result contracts.GuardianBandResult) {
	if o.governance == nil {
		return
	}
	d := ledger.Decision{
		ID:            uuid.New().String(),
		PlanHash:      req.PlanHash,
		ActorID:       req.Approver1ID,
		Action:        "block_override",
		Band:          result.Band.String(),
		Justification: result.Reason,
		Override:      &req,
		Timestamp:     time.Now(),
	}
	if err := o.governance.Record(ctx, d); err != nil {
		o.logger.Warn("governance ledger emission failed",
			"plan_hash", req.PlanHash, "error", err)
	}
}
