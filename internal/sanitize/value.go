package sanitize

import "strings"

// FieldRules picks a rule per JSON field name. Lookup is case-insensitive and
// unlisted fields use Default.
type FieldRules struct {
	Default Rule
	Fields  map[string]Rule
}

func (fr FieldRules) ruleFor(field string) Rule {
	for k, r := range fr.Fields {
		if strings.EqualFold(k, field) {
			return r
		}
	}
	return fr.Default
}

// Value sanitizes every string leaf of a decoded JSON value. Array elements
// inherit the field name of the array. Non-string leaves are returned as is.
func Value(v any, rules FieldRules) any { return std.Value(v, rules) }

func (s *Sanitizer) Value(v any, rules FieldRules) any {
	return s.walk(v, "", rules)
}

func (s *Sanitizer) walk(v any, field string, rules FieldRules) any {
	switch t := v.(type) {
	case string:
		return s.Sanitize(t, rules.ruleFor(field))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = s.walk(child, k, rules)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = s.walk(child, field, rules)
		}
		return out
	default:
		return v
	}
}
