// Package tiers defines approver trust tiers for the override workflow.
// The engine only ever consumes the Lookup interface; how a host maps
// identities to tiers (IAM, directory, static config) is its own business.
package tiers

// Trust tier levels, ascending. An approver must meet the configured
// minimum tier for an override signature to count.
const (
	TierObserver = 0
	TierOperator = 1
	TierReviewer = 2
	TierSecurity = 3
	TierOwner    = 4
)

// Lookup resolves an approver identity to its trust tier.
type Lookup interface {
	TierOf(approverID string) int
}

// Static is a map-backed Lookup with a default for unknown identities.
type Static struct {
	tiers       map[string]int
	defaultTier int
}

// NewStatic creates a Static lookup. Unknown approvers resolve to
// defaultTier; use TierObserver to make unknown identities powerless.
func NewStatic(tiers map[string]int, defaultTier int) *Static {
	cp := make(map[string]int, len(tiers))
	for k, v := range tiers {
		cp[k] = v
	}
	return &Static{tiers: cp, defaultTier: defaultTier}
}

func (s *Static) TierOf(approverID string) int {
	if tier, ok := s.tiers[approverID]; ok {
		return tier
	}
	return s.defaultTier
}

// Func adapts a plain function to the Lookup interface.
type Func func(approverID string) int

func (f Func) TierOf(approverID string) int { return f(approverID) }
