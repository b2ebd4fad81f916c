// Package canary gates whether a computed guardian band is actually
// enforced for a given request. Enforcement rolls out gradually: a global
// flag, a lane allow-list, an emergency kill-switch, and a deterministic
// canary percentage all have to agree before a band blocks anything.
//
// The same package carries the dual-approval override path that can
// unblock a BLOCK result under audit.
package canary

import (
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"os"
	"strings"

	"github.com/clearline-labs/warden/pkg/contracts"
)

// Config holds the rollout controls.
type Config struct {
	// Enabled is the global enforcement switch. Off means every decision
	// is shadow-mode only.
	Enabled bool

	// Percent is the canary percentage in [0,100]. Requests whose stable
	// sample falls below it enforce.
	Percent int

	// EnforcedLanes lists the lanes where enforcement applies.
	EnforcedLanes []string

	// DefaultLane is assumed when a request carries no lane.
	DefaultLane string

	// KillSwitchPath is a filesystem sentinel; its presence disables
	// enforcement instantly.
	KillSwitchPath string

	// MinApproverTier is the minimum trust tier each override approver
	// must meet.
	MinApproverTier int
}

// DefaultConfig enforces everywhere at 100% with the kill-switch at a
// well-known path.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Percent:         100,
		EnforcedLanes:   []string{"production"},
		DefaultLane:     "production",
		KillSwitchPath:  "/tmp/warden_killswitch",
		MinApproverTier: 2,
	}
}

// Controller decides per-request enforcement and handles overrides.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Controller.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: slog.Default().With("component", "canary"),
	}
}

// EnforcementActive reports whether band enforcement applies to this
// request, with a reason for the negative cases. Decisions are stable: the
// same (plan hash, request, session, lane) always lands on the same side
// of the canary line.
func (c *Controller) EnforcementActive(planHash string, vctx *contracts.VerificationContext) (bool, string) {
	if !c.cfg.Enabled {
		return false, "enforcement disabled"
	}

	if c.killSwitchPresent() {
		c.logger.Warn("kill-switch sentinel present, enforcement disabled",
			"path", c.cfg.KillSwitchPath)
		return false, "kill-switch active"
	}

	lane := vctx.Lane(c.cfg.DefaultLane)
	if !c.laneEnforced(lane) {
		return false, "lane not enforced: " + lane
	}

	sample := Sample(planHash, vctx, c.cfg.DefaultLane)
	if sample >= c.cfg.Percent {
		return false, "outside canary percentage"
	}
	return true, ""
}

// Sample maps a request deterministically into [0,100). Exported so hosts
// can precompute which side of the canary line a request falls on.
func Sample(planHash string, vctx *contracts.VerificationContext, defaultLane string) int {
	var requestID, sessionID string
	if vctx != nil {
		requestID, sessionID = vctx.RequestID, vctx.SessionID
	}
	key := strings.Join([]string{planHash, requestID, sessionID, vctx.Lane(defaultLane)}, "|")
	sum := sha256.Sum256([]byte(key))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

func (c *Controller) laneEnforced(lane string) bool {
	for _, l := range c.cfg.EnforcedLanes {
		if l == lane {
			return true
		}
	}
	return false
}

func (c *Controller) killSwitchPresent() bool {
	if c.cfg.KillSwitchPath == "" {
		return false
	}
	_, err := os.Stat(c.cfg.KillSwitchPath)
	return err == nil
}
