package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString_NFKC(t *testing.T) {
	// Fullwidth letters fold to ASCII under NFKC.
	assert.Equal(t, "admin", String("ａｄｍｉｎ"))
}

func TestString_StripsZeroWidth(t *testing.T) {
	// Escapes, not literal characters: a raw U+FEFF in source is an
	// illegal byte order mark to the compiler.
	assert.Equal(t, "sudo", String("su\u200bdo"))
	assert.Equal(t, "root", String("\ufeffro\u200dot"))
}

func TestString_FoldsHomoglyphs(t *testing.T) {
	// Cyrillic а/е/о look-alikes fold to Latin.
	assert.Equal(t, "password", String("pаsswоrd"))
}

func TestString_DeobfuscatesAtDot(t *testing.T) {
	assert.Equal(t, "user@example.com", String("user (at) example (dot) com"))
	assert.Equal(t, "user@example.com", String("user[at]example[dot]com"))
}

func TestString_DotBeforeAtOrdering(t *testing.T) {
	// If (at) were rewritten first, "(at) host (dot)" would leave a
	// dangling " dot " next to the @.
	assert.Equal(t, "a@b.c", String("a (at) b (dot) c"))
}

func TestString_CompressesWhitespaceAroundSeparators(t *testing.T) {
	assert.Equal(t, "user@example.com", String("user @ example . com"))
}

func TestString_PlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "delete all records", String("delete all records"))
}

func TestValue_NonString(t *testing.T) {
	assert.Equal(t, "42", Value(42))
	assert.Equal(t, "", Value(nil))
	assert.Contains(t, Value(map[string]any{"k": "v"}), `"k":"v"`)
}

func TestCollect_Paths(t *testing.T) {
	plan := map[string]any{
		"action":      "send_report",
		"description": "mail the report",
		"params": map[string]any{
			"to":     "ops (at) example (dot) com",
			"nested": map[string]any{"note": "hello"},
			"config": map[string]any{"model": "gpt-x"},
			"items":  []any{"alpha", "beta"},
			"count":  3,
		},
	}
	frags := Collect(plan)

	byPath := make(map[string]string, len(frags))
	for _, f := range frags {
		byPath[f.Path] = f.Text
	}
	assert.Equal(t, "send_report", byPath["action"])
	assert.Equal(t, "mail the report", byPath["description"])
	assert.Equal(t, "ops@example.com", byPath["params.to"])
	assert.Equal(t, "hello", byPath["params.nested.note"])
	assert.Contains(t, byPath["params.config"], "gpt-x")
	assert.Equal(t, "alpha", byPath["params.items[0]"])
	assert.Equal(t, "beta", byPath["params.items[1]"])
	assert.NotContains(t, byPath, "params.count")

	// Deterministic ordering.
	again := Collect(plan)
	assert.Equal(t, frags, again)
}

func TestCollect_MalformedPlan(t *testing.T) {
	assert.Empty(t, Collect(map[string]any{"action": 7, "params": "nope"}))
}
