package enrich

import (
	"strings"

	"github.com/clearline-labs/warden/pkg/contracts"
)

// financialDetector matches money-moving operations: payment-family action
// names, financial field names, and numeric amounts typed with a currency.
type financialDetector struct{}

var financialActionKeywords = []string{
	"payment", "transfer", "refund", "invoice", "payout", "charge",
	"withdraw", "deposit", "billing", "purchase",
}

var financialFieldNames = []string{
	"amount", "currency", "total", "price", "account_number", "iban",
	"routing_number", "balance",
}

func (financialDetector) Name() string { return "financial" }

func (d financialDetector) Detect(in Input) (*contracts.SafetyTag, error) {
	hits := 0

	action := strings.ToLower(in.Plan.Action())
	for _, kw := range financialActionKeywords {
		if strings.Contains(action, kw) {
			hits++
			break
		}
	}

	names := paramNames(in.Plan)
	for _, name := range names {
		matched := false
		for _, known := range financialFieldNames {
			if name == known {
				matched = true
				break
			}
		}
		if matched {
			hits++
			break
		}
	}

	// A numeric amount alongside a currency field is the strongest signal.
	if params := in.Plan.Params(); params != nil {
		if _, hasCurrency := params["currency"].(string); hasCurrency {
			if isNumeric(params["amount"]) {
				hits++
			}
		}
	}

	var conf float64
	switch {
	case hits >= 3:
		conf = 0.9
	case hits == 2:
		conf = 0.75
	case hits == 1:
		conf = 0.5
	default:
		return nil, nil
	}

	tag, err := contracts.NewSafetyTag("financial", contracts.CategoryResourceImpact, conf, d.Name())
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
