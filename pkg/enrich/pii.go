package enrich

import (
	"regexp"

	"github.com/clearline-labs/warden/pkg/contracts"
)

// piiDetector matches personally identifiable information by shape (email,
// SSN, phone, credit card) and by known PII field names in parameters.
//
// Confidence is the ceiling of the strongest observed signal, never a sum:
// a plan full of emails is no more confidently PII than a plan with one.
type piiDetector struct {
	email *regexp.Regexp
	ssn   *regexp.Regexp
	phone *regexp.Regexp
	card  *regexp.Regexp
}

var piiFieldNames = []string{
	"ssn", "social_security", "email", "email_address", "phone", "phone_number",
	"credit_card", "cc_number", "card_number", "date_of_birth", "dob",
	"passport", "home_address", "full_name",
}

func newPIIDetector() *piiDetector {
	return &piiDetector{
		email: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		ssn:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		phone: regexp.MustCompile(`\+?[0-9][0-9\-\s()]{7,13}[0-9]`),
		card:  regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	}
}

func (d *piiDetector) Name() string { return "pii" }

func (d *piiDetector) Detect(in Input) (*contracts.SafetyTag, error) {
	best := 0.0
	bump := func(conf float64) {
		if conf > best {
			best = conf
		}
	}

	if d.ssn.MatchString(in.Joined) {
		bump(0.95)
	}
	if d.card.MatchString(in.Joined) {
		bump(0.9)
	}
	if d.email.MatchString(in.Joined) {
		bump(0.85)
	}
	if d.phone.MatchString(in.Joined) {
		bump(0.6)
	}
	for _, name := range paramNames(in.Plan) {
		for _, known := range piiFieldNames {
			if name == known {
				bump(0.5)
			}
		}
	}

	if best == 0 {
		return nil, nil
	}
	tag, err := contracts.NewSafetyTag("pii", contracts.CategoryDataSensitivity, best, d.Name())
	if err != nil {
		return nil, err
	}
	return &tag, nil
}
