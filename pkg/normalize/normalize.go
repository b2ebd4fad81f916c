// Package normalize canonicalizes plan text before detection. Obfuscated
// content ("usеr(at)example(dot)com" with a Cyrillic е) folds to the plain
// form detectors expect.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// homoglyphs maps common Cyrillic/Greek look-alikes to their Latin forms.
// NFKC does not fold these; they are distinct letters, not compatibility
// variants.
var homoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x',
	'у': 'y', 'і': 'i', 'ѕ': 's', 'ј': 'j', 'һ': 'h', 'ԁ': 'd',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Greek
	'α': 'a', 'ο': 'o', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E',
	'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N',
	'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
}

// zeroWidth is the set of zero-width and format characters stripped before
// detection. Covers the Cf category plus the BOM.
var zeroWidth = runes.In(unicode.Cf)

var (
	// Order matters: (dot) must be rewritten before (at), otherwise
	// "user (at) host (dot) com" can collapse into "@ dot" artifacts.
	dotPattern = regexp.MustCompile(`(?i)\s*[\(\[]\s*dot\s*[\)\]]\s*`)
	atPattern  = regexp.MustCompile(`(?i)\s*[\(\[]\s*at\s*[\)\]]\s*`)

	spacedAt  = regexp.MustCompile(`\s+@\s+|\s+@|@\s+`)
	spacedDot = regexp.MustCompile(`(\S)\s+\.\s+(\S)`)
	multiWS   = regexp.MustCompile(`\s{2,}`)
)

var normalizer = transform.Chain(norm.NFKC, runes.Remove(zeroWidth))

// String canonicalizes one text fragment. Pure, never fails; the zero
// value of every step is the input unchanged.
func String(s string) string {
	if s == "" {
		return ""
	}

	out, _, err := transform.String(normalizer, s)
	if err != nil {
		out = s
	}

	out = strings.Map(func(r rune) rune {
		if folded, ok := homoglyphs[r]; ok {
			return folded
		}
		return r
	}, out)

	out = dotPattern.ReplaceAllString(out, ".")
	out = atPattern.ReplaceAllString(out, "@")

	out = spacedAt.ReplaceAllString(out, "@")
	out = spacedDot.ReplaceAllString(out, "$1.$2")
	out = multiWS.ReplaceAllString(out, " ")

	return strings.TrimSpace(out)
}

// Value canonicalizes an arbitrary plan value. Strings normalize directly;
// everything else is stringified first (JSON where possible) so detectors
// always receive text.
func Value(v any) string {
	switch t := v.(type) {
	case string:
		return String(t)
	case nil:
		return ""
	default:
		if b, err := json.Marshal(v); err == nil {
			return String(string(b))
		}
		return String(fmt.Sprintf("%v", v))
	}
}
