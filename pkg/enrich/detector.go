// Package enrich classifies a plan's content into semantic risk categories.
// A fixed, ordered set of independent detectors scans the normalized plan
// text and emits at most one SafetyTag each. Detector failures degrade to
// "no tag from that detector" and never abort the batch.
package enrich

import (
	"strings"

	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/normalize"
)

// Input is what every detector receives: the raw plan, its normalized text
// fragments, and the raw per-call context.
type Input struct {
	Plan      contracts.ActionPlan
	Fragments []normalize.Fragment
	Context   *contracts.VerificationContext

	// Joined is all fragment texts concatenated lowercase, precomputed
	// once per enrichment so detectors can substring-scan cheaply.
	Joined string
}

// Detector classifies one risk category. Detect returns nil when the
// category does not apply; the returned tag's confidence is always within
// [0,1] (construct via contracts.NewSafetyTag).
type Detector interface {
	Name() string
	Detect(in Input) (*contracts.SafetyTag, error)
}

// newInput precomputes the shared detector input for one plan.
func newInput(plan contracts.ActionPlan, frags []normalize.Fragment, vctx *contracts.VerificationContext) Input {
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(strings.ToLower(f.Text))
		b.WriteByte('\n')
	}
	return Input{Plan: plan, Fragments: frags, Context: vctx, Joined: b.String()}
}

// countHits returns how many of the needles occur in the joined text.
func countHits(joined string, needles []string) int {
	hits := 0
	for _, n := range needles {
		if strings.Contains(joined, n) {
			hits++
		}
	}
	return hits
}

// paramNames returns the lowercased parameter names of a plan, including
// nested map keys one level down. Field-name detectors match against these.
func paramNames(plan contracts.ActionPlan) []string {
	params := plan.Params()
	names := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, strings.ToLower(k))
		if nested, ok := v.(map[string]any); ok {
			for nk := range nested {
				names = append(names, strings.ToLower(nk))
			}
		}
	}
	return names
}
