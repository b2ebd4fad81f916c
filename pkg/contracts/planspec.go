// Package contracts defines the shared data model of the admission-control
// engine: action plans, verification context, safety tags, guardian bands,
// and verification outcomes.
//
// Types here are plain data. Behavior lives in the packages that consume
// them (verify, enrich, guardian, canary). Constructors validate invariants
// that must never be violated (tag confidence bounds, threshold ordering).
package contracts

import (
	"time"
)

// ActionPlan is the caller-supplied description of a requested operation.
// The engine treats it as read-only input; normalization always works on
// a private copy, never on the caller's map.
type ActionPlan map[string]any

// Action returns the plan's action name, or "" if absent or not a string.
func (p ActionPlan) Action() string {
	s, _ := p["action"].(string)
	return s
}

// Params returns the plan's parameter map, or nil if absent or malformed.
func (p ActionPlan) Params() map[string]any {
	m, _ := p["params"].(map[string]any)
	return m
}

// Description returns the optional free-text description.
func (p ActionPlan) Description() string {
	s, _ := p["description"].(string)
	return s
}

// VerificationContext carries per-call metadata through the pipeline.
// It is created once per verification call, mutated additively by the
// pipeline stages (safety tags, enforcement flags, lane), and discarded
// after the call returns.
//
// Timestamp is deliberately excluded from plan hashing so that identical
// (plan, user, session) inputs always hash identically.
type VerificationContext struct {
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Lane returns the request's rollout lane, falling back to def when unset.
func (c *VerificationContext) Lane(def string) string {
	if c == nil || c.Metadata == nil {
		return def
	}
	if lane, ok := c.Metadata["lane"].(string); ok && lane != "" {
		return lane
	}
	return def
}

// SetMeta stores a metadata value, allocating the map on first use.
func (c *VerificationContext) SetMeta(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}
