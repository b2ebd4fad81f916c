package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/clearline-labs/warden/pkg/canonicalize"
	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/normalize"
	"github.com/clearline-labs/warden/pkg/observability"
)

// DefaultCacheCapacity bounds the enrichment result cache.
const DefaultCacheCapacity = 1000

// Enricher runs the fixed detector battery over normalized plans and caches
// results by content hash. Stateless apart from the bounded cache; safe for
// concurrent use.
type Enricher struct {
	detectors []Detector
	cache     *ristretto.Cache[string, *contracts.TaggedPlan]
	metrics   *observability.Provider
	logger    *slog.Logger
}

// Option configures an Enricher.
type Option func(*Enricher) error

// WithDetector appends a custom detector after the built-in battery.
func WithDetector(d Detector) Option {
	return func(e *Enricher) error {
		e.detectors = append(e.detectors, d)
		return nil
	}
}

// WithMetrics attaches a metrics provider. Nil is a valid no-op sink.
func WithMetrics(p *observability.Provider) Option {
	return func(e *Enricher) error {
		e.metrics = p
		return nil
	}
}

// WithCacheCapacity bounds the result cache to roughly n entries.
// n <= 0 disables caching entirely.
func WithCacheCapacity(n int64) Option {
	return func(e *Enricher) error {
		if e.cache != nil {
			e.cache.Close()
			e.cache = nil
		}
		if n <= 0 {
			return nil
		}
		cache, err := ristretto.NewCache(&ristretto.Config[string, *contracts.TaggedPlan]{
			NumCounters: n * 10,
			MaxCost:     n,
			BufferItems: 64,
		})
		if err != nil {
			return fmt.Errorf("enrich: cache init failed: %w", err)
		}
		e.cache = cache
		return nil
	}
}

// New creates an Enricher with the built-in detector battery (PII,
// financial, model-switch, external-call, privilege-escalation,
// regulatory, in that fixed order) and a cache of DefaultCacheCapacity.
func New(opts ...Option) (*Enricher, error) {
	e := &Enricher{
		detectors: []Detector{
			newPIIDetector(),
			financialDetector{},
			modelSwitchDetector{},
			externalCallDetector{},
			privilegeDetector{},
			regulatoryDetector{},
		},
		logger: slog.Default().With("component", "enrich"),
	}
	if err := WithCacheCapacity(DefaultCacheCapacity)(e); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Enrich classifies the plan and returns it with its safety tags. Never
// fails: a crashing detector contributes no tag and the rest of the battery
// continues.
func (e *Enricher) Enrich(ctx context.Context, plan contracts.ActionPlan, vctx *contracts.VerificationContext) *contracts.TaggedPlan {
	start := time.Now()
	frags := normalize.Collect(plan)
	key := e.cacheKey(frags, vctx)

	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			hit := *cached
			hit.CacheHit = true
			return &hit
		}
	}

	in := newInput(plan, frags, vctx)
	tags := make([]contracts.SafetyTag, 0, len(e.detectors))
	for _, d := range e.detectors {
		tag, err := e.runDetector(d, in)
		if err != nil {
			e.logger.WarnContext(ctx, "detector failed, skipping",
				"detector", d.Name(), "error", err)
			continue
		}
		if tag == nil {
			continue
		}
		tags = append(tags, *tag)
		e.metrics.RecordTag(ctx, tag.Name, string(tag.Category), tag.Confidence)
	}

	result := &contracts.TaggedPlan{
		Plan:              plan,
		Tags:              tags,
		EnrichmentLatency: time.Since(start),
	}
	if e.cache != nil {
		e.cache.Set(key, result, 1)
	}
	return result
}

// runDetector isolates one detector call, converting panics into errors so
// a misbehaving detector can never abort the batch.
func (e *Enricher) runDetector(d Detector, in Input) (tag *contracts.SafetyTag, err error) {
	defer func() {
		if r := recover(); r != nil {
			tag = nil
			err = fmt.Errorf("detector %s panicked: %v", d.Name(), r)
		}
	}()
	return d.Detect(in)
}

// cacheKey hashes the normalized plan text plus the caller identity and
// context metadata (detector thresholds depend on it). Timestamp and
// request ID never participate, so repeated identical calls hit.
func (e *Enricher) cacheKey(frags []normalize.Fragment, vctx *contracts.VerificationContext) string {
	texts := make(map[string]string, len(frags))
	for _, f := range frags {
		texts[f.Path] = f.Text
	}
	var user, session string
	var meta map[string]any
	if vctx != nil {
		user, session, meta = vctx.UserID, vctx.SessionID, vctx.Metadata
	}
	h, err := canonicalize.CanonicalHash(map[string]any{
		"fragments": texts,
		"user":      user,
		"session":   session,
		"meta":      meta,
	})
	if err != nil {
		return canonicalize.HashBytes(fmt.Appendf(nil, "%v|%s|%s|%v", texts, user, session, meta))
	}
	return h
}

// Close releases the cache's resources.
func (e *Enricher) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}
