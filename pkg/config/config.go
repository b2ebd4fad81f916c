// Package config loads the engine configuration from environment
// variables. Every knob has a documented default so the engine is usable
// with zero configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the admission engine.
type Config struct {
	// Guardian drift thresholds and hysteresis holds.
	DriftGuardrails float64       // WARDEN_DRIFT_GUARDRAILS, default 0.15
	DriftHuman      float64       // WARDEN_DRIFT_HUMAN, default 0.35
	DriftBlock      float64       // WARDEN_DRIFT_BLOCK, default 0.7
	GuardrailsHold  time.Duration // WARDEN_HOLD_GUARDRAILS, default 30s
	HumanHold       time.Duration // WARDEN_HOLD_HUMAN, default 60s
	BlockHold       time.Duration // WARDEN_HOLD_BLOCK, default 300s
	FallbackBand    string        // WARDEN_FALLBACK_BAND, default "BLOCK"

	// Canary rollout.
	EnforcementEnabled bool // WARDEN_ENFORCEMENT_ENABLED, default true

	CanaryPercent   int      // WARDEN_CANARY_PERCENT, default 100
	EnforcedLanes   []string // WARDEN_ENFORCED_LANES, default "production"
	DefaultLane     string   // WARDEN_DEFAULT_LANE, default "production"
	KillSwitchPath  string   // WARDEN_KILLSWITCH_PATH, default /tmp/warden_killswitch
	MinApproverTier int      // WARDEN_MIN_APPROVER_TIER, default 2

	// Verifier resource and loop ceilings.
	MaxEstimatedSeconds float64  // WARDEN_MAX_ESTIMATED_SECONDS, default 300
	MaxMemoryMB         int      // WARDEN_MAX_MEMORY_MB, default 1024
	MaxBatchSize        int      // WARDEN_MAX_BATCH_SIZE, default 1000
	MaxIterations       int      // WARDEN_MAX_ITERATIONS, default 10000
	MaxRecursionDepth   int      // WARDEN_MAX_RECURSION_DEPTH, default 10
	AllowedDomains      []string // WARDEN_ALLOWED_DOMAINS, comma-separated

	// Enrichment cache.
	TagCacheCapacity int64 // WARDEN_TAG_CACHE_CAPACITY, default 1000
	TagCacheEnabled  bool  // WARDEN_TAG_CACHE_ENABLED, default true
}

// Load reads configuration from the environment, falling back to defaults.
func Load() *Config {
	return &Config{
		DriftGuardrails: envFloat("WARDEN_DRIFT_GUARDRAILS", 0.15),
		DriftHuman:      envFloat("WARDEN_DRIFT_HUMAN", 0.35),
		DriftBlock:      envFloat("WARDEN_DRIFT_BLOCK", 0.7),
		GuardrailsHold:  envDuration("WARDEN_HOLD_GUARDRAILS", 30*time.Second),
		HumanHold:       envDuration("WARDEN_HOLD_HUMAN", 60*time.Second),
		BlockHold:       envDuration("WARDEN_HOLD_BLOCK", 300*time.Second),
		FallbackBand:    envString("WARDEN_FALLBACK_BAND", "BLOCK"),

		EnforcementEnabled: envBool("WARDEN_ENFORCEMENT_ENABLED", true),

		CanaryPercent:   envInt("WARDEN_CANARY_PERCENT", 100),
		EnforcedLanes:   envList("WARDEN_ENFORCED_LANES", []string{"production"}),
		DefaultLane:     envString("WARDEN_DEFAULT_LANE", "production"),
		KillSwitchPath:  envString("WARDEN_KILLSWITCH_PATH", "/tmp/warden_killswitch"),
		MinApproverTier: envInt("WARDEN_MIN_APPROVER_TIER", 2),

		MaxEstimatedSeconds: envFloat("WARDEN_MAX_ESTIMATED_SECONDS", 300),
		MaxMemoryMB:         envInt("WARDEN_MAX_MEMORY_MB", 1024),
		MaxBatchSize:        envInt("WARDEN_MAX_BATCH_SIZE", 1000),
		MaxIterations:       envInt("WARDEN_MAX_ITERATIONS", 10000),
		MaxRecursionDepth:   envInt("WARDEN_MAX_RECURSION_DEPTH", 10),
		AllowedDomains:      envList("WARDEN_ALLOWED_DOMAINS", nil),

		TagCacheCapacity: int64(envInt("WARDEN_TAG_CACHE_CAPACITY", 1000)),
		TagCacheEnabled:  envBool("WARDEN_TAG_CACHE_ENABLED", true),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
