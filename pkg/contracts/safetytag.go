package contracts

import (
	"fmt"
	"time"
)

// TagCategory classifies a safety tag into a semantic risk family.
type TagCategory string

const (
	CategoryDataSensitivity TagCategory = "DATA_SENSITIVITY"
	CategorySystemOperation TagCategory = "SYSTEM_OPERATION"
	CategoryUserInteraction TagCategory = "USER_INTERACTION"
	CategorySecurityRisk    TagCategory = "SECURITY_RISK"
	CategoryCompliance      TagCategory = "COMPLIANCE"
	CategoryResourceImpact  TagCategory = "RESOURCE_IMPACT"
)

// SafetyTag is one semantic risk classification of a plan's content.
// Confidence is always within [0,1]; use NewSafetyTag to enforce this.
type SafetyTag struct {
	Name       string      `json:"name"`
	Category   TagCategory `json:"category"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source"`
}

// NewSafetyTag constructs a SafetyTag, rejecting confidence outside [0,1].
func NewSafetyTag(name string, category TagCategory, confidence float64, source string) (SafetyTag, error) {
	if confidence < 0 || confidence > 1 {
		return SafetyTag{}, fmt.Errorf("safety tag %q: confidence %v outside [0,1]", name, confidence)
	}
	return SafetyTag{Name: name, Category: category, Confidence: confidence, Source: source}, nil
}

// TaggedPlan is a plan plus its enrichment result. Immutable once produced;
// cached by a content hash of the normalized plan and context identity.
type TaggedPlan struct {
	Plan              ActionPlan    `json:"plan"`
	Tags              []SafetyTag   `json:"tags"`
	EnrichmentLatency time.Duration `json:"enrichment_latency"`
	CacheHit          bool          `json:"cache_hit"`
}

// TagNames returns the tag names in detection order.
func (tp *TaggedPlan) TagNames() []string {
	names := make([]string, 0, len(tp.Tags))
	for _, t := range tp.Tags {
		names = append(names, t.Name)
	}
	return names
}
