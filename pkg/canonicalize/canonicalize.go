// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 content hashing for deterministic identification
// of plans and decisions.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Map keys are sorted by UTF-8 bytes and number formatting is normalized,
// so structurally equal values always serialize to identical bytes.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// HashBytes computes the SHA-256 digest of raw bytes as a hex string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// PlanHash computes the deterministic identity of a plan evaluation.
// The hash covers the plan content plus the caller's user and session
// identity; wall-clock time is deliberately excluded so repeated calls
// with the same inputs always agree.
//
// PlanHash never fails: a plan that cannot be canonicalized (non-JSON
// values) falls back to hashing its fmt representation, which is still
// stable for a fixed input value.
func PlanHash(plan map[string]any, userID, sessionID string) string {
	envelope := map[string]any{
		"plan":       plan,
		"user_id":    userID,
		"session_id": sessionID,
	}
	b, err := JCS(envelope)
	if err != nil {
		return HashBytes(fmt.Appendf(nil, "%v|%s|%s", plan, userID, sessionID))
	}
	return HashBytes(b)
}
