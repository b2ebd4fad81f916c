// Package ledger feeds the governance/audit ledger collaborator: one
// record per non-ALLOW decision. Emission is best-effort — a ledger
// failure never fails the verification call that produced the record.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearline-labs/warden/pkg/canonicalize"
	"github.com/clearline-labs/warden/pkg/contracts"
)

// Decision is one governance record.
type Decision struct {
	ID            string                     `json:"id"`
	PlanHash      string                     `json:"plan_hash"`
	ActorID       string                     `json:"actor_id,omitempty"`
	Action        string                     `json:"action"`
	MatchedRules  []string                   `json:"matched_rules,omitempty"`
	Tags          []contracts.SafetyTag      `json:"tags,omitempty"`
	Band          string                     `json:"band"`
	Lane          string                     `json:"lane,omitempty"`
	Justification string                     `json:"justification,omitempty"`
	Override      *contracts.OverrideRequest `json:"override,omitempty"`
	Timestamp     time.Time                  `json:"timestamp"`
}

// Governance persists decision records.
type Governance interface {
	Record(ctx context.Context, d Decision) error
}

// entry is one hash-chained ledger row.
type entry struct {
	Sequence    uint64   `json:"sequence"`
	ContentHash string   `json:"content_hash"`
	PrevHash    string   `json:"prev_hash"`
	Decision    Decision `json:"decision"`
}

// Memory is a bounded, append-only, hash-chained in-memory ledger. Each
// entry links to its predecessor so tampering with history is detectable.
type Memory struct {
	mu       sync.Mutex
	entries  []entry
	headHash string
	capacity int
}

// NewMemory creates a Memory ledger retaining at most capacity entries
// (oldest evicted first). capacity <= 0 defaults to 1000.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Memory{headHash: "genesis", capacity: capacity}
}

// Record appends a decision, chaining it to the current head.
func (m *Memory) Record(_ context.Context, d Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seq := uint64(len(m.entries)) + 1
	hash, err := canonicalize.CanonicalHash(map[string]any{
		"seq":  seq,
		"prev": m.headHash,
		"d":    d,
	})
	if err != nil {
		return err
	}

	m.entries = append(m.entries, entry{
		Sequence:    seq,
		ContentHash: hash,
		PrevHash:    m.headHash,
		Decision:    d,
	})
	m.headHash = hash
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
	return nil
}

// Len returns the number of retained entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Decisions returns a copy of the retained decisions, oldest first.
func (m *Memory) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Decision, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Decision
	}
	return out
}

// Verify walks the chain and reports whether every retained entry still
// links to its predecessor.
func (m *Memory) Verify() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := ""
	for i, e := range m.entries {
		if i > 0 && e.PrevHash != prev {
			return false
		}
		prev = e.ContentHash
	}
	return true
}
