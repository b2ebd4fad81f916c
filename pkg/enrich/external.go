package enrich

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/clearline-labs/warden/pkg/contracts"
	"github.com/clearline-labs/warden/pkg/normalize"
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]+|\bwww\.[a-z0-9][a-z0-9.-]+`)

// externalCallDetector flags plans that reach outside the platform: URLs
// anywhere in the plan text (embedded script/run/command/config values
// included) or corroborating network keywords.
//
// A single weak keyword hint is below the acceptance threshold; two or more
// corroborating hints, or a concrete URL, are enough.
type externalCallDetector struct{}

var externalKeywords = []string{
	"webhook", "curl ", "http request", "api call", "fetch(", "endpoint",
	"post to", "download", "upload",
}

func (externalCallDetector) Name() string { return "external_call" }

func (d externalCallDetector) Detect(in Input) (*contracts.SafetyTag, error) {
	var conf float64
	switch {
	case urlPattern.MatchString(in.Joined):
		conf = 0.85
	case countHits(in.Joined, externalKeywords) >= 2:
		conf = 0.6
	default:
		// Zero or one weak hint: below threshold.
		return nil, nil
	}

	tag, err := contracts.NewSafetyTag("external_call", contracts.CategorySecurityRisk, conf, d.Name())
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// ExtractDomains returns the deduplicated, sorted set of hostnames targeted
// by URLs anywhere in the fragments. The verifier checks these against its
// domain allow-list.
func ExtractDomains(frags []normalize.Fragment) []string {
	seen := make(map[string]bool)
	for _, f := range frags {
		for _, raw := range urlPattern.FindAllString(f.Text, -1) {
			candidate := raw
			if !strings.Contains(candidate, "://") {
				candidate = "https://" + candidate
			}
			u, err := url.Parse(candidate)
			if err != nil || u.Hostname() == "" {
				continue
			}
			seen[strings.ToLower(u.Hostname())] = true
		}
	}
	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// modelSwitchDetector flags attempts to change the serving AI model from
// inside a plan. Strong hints (explicit switch actions or model
// identifiers) are accepted alone; weak hints need corroboration.
type modelSwitchDetector struct{}

var modelSwitchStrong = []string{
	"switch_model", "set_model", "change model", "switch model", "use model",
	"model=", "gpt-", "claude", "llama",
}

var modelSwitchWeak = []string{
	"model", "llm", "temperature", "prompt", "completion",
}

func (modelSwitchDetector) Name() string { return "model_switch" }

func (d modelSwitchDetector) Detect(in Input) (*contracts.SafetyTag, error) {
	strong := countHits(in.Joined, modelSwitchStrong)
	weak := countHits(in.Joined, modelSwitchWeak)

	var conf float64
	switch {
	case strong >= 1 && weak >= 2:
		conf = 0.9
	case strong >= 1:
		conf = 0.8
	case weak >= 2:
		conf = 0.65
	default:
		// One weak hint alone does not clear the threshold.
		return nil, nil
	}

	tag, err := contracts.NewSafetyTag("model_switch", contracts.CategorySystemOperation, conf, d.Name())
	if err != nil {
		return nil, err
	}
	return &tag, nil
}
