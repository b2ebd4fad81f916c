package normalize

import (
	"sort"
	"strconv"
)

// Fragment is one normalized text source extracted from a plan, addressed
// by its dotted field path (e.g. "params.query", "params.config.script").
type Fragment struct {
	Path string
	Text string
}

// embeddedCodeFields are parameter names whose values are scanned in full,
// whatever their type. Obfuscated model switches and external calls hide in
// these.
var embeddedCodeFields = map[string]bool{
	"script":  true,
	"run":     true,
	"command": true,
	"config":  true,
}

// Collect extracts every text source from a plan in deterministic path
// order: the action name, the description, and all string parameter values
// recursively, with script/run/command/config values stringified whole.
func Collect(plan map[string]any) []Fragment {
	var frags []Fragment

	if action, ok := plan["action"].(string); ok && action != "" {
		frags = append(frags, Fragment{Path: "action", Text: String(action)})
	}
	if desc, ok := plan["description"].(string); ok && desc != "" {
		frags = append(frags, Fragment{Path: "description", Text: String(desc)})
	}
	if params, ok := plan["params"].(map[string]any); ok {
		frags = append(frags, walk("params", params)...)
	}

	sort.Slice(frags, func(i, j int) bool { return frags[i].Path < frags[j].Path })
	return frags
}

func walk(prefix string, m map[string]any) []Fragment {
	var frags []Fragment
	for key, val := range m {
		path := prefix + "." + key
		if embeddedCodeFields[key] {
			if text := Value(val); text != "" {
				frags = append(frags, Fragment{Path: path, Text: text})
			}
			continue
		}
		switch t := val.(type) {
		case string:
			if t != "" {
				frags = append(frags, Fragment{Path: path, Text: String(t)})
			}
		case map[string]any:
			frags = append(frags, walk(path, t)...)
		case []any:
			for i, elem := range t {
				if s, ok := elem.(string); ok && s != "" {
					frags = append(frags, Fragment{Path: path + "[" + strconv.Itoa(i) + "]", Text: String(s)})
				}
			}
		}
	}
	return frags
}
