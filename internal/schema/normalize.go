package schema

import (
	"regexp"
	"strings"
)

// Normalize applies a field's normalization_rules (keyed case-insensitively
// on the raw input), falling back to identity when no rule matches (spec
// §4.1.3). For experimenter it additionally rewrites "Firstname Lastname"
// into the "Lastname, Firstname" convention; values it cannot rewrite pass
// through unchanged and are not flagged here (NeedsExperimenterReview
// reports them).
func (c *Catalog) Normalize(field string, raw any) any {
	f, ok := c.byName[field]
	if !ok {
		return raw
	}
	switch f.FieldType {
	case "list":
		return normalizeList(f, raw, c)
	default:
		return c.normalizeScalar(f, raw)
	}
}

func normalizeList(f FieldSpec, raw any, c *Catalog) any {
	switch t := raw.(type) {
	case []string:
		out := make([]string, len(t))
		for i, v := range t {
			out[i] = asString(c.normalizeScalar(f, v))
		}
		return out
	case []any:
		out := make([]string, len(t))
		for i, v := range t {
			out[i] = asString(c.normalizeScalar(f, v))
		}
		return out
	case string:
		if t == "" {
			return t
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, asString(c.normalizeScalar(f, p)))
		}
		return out
	default:
		return raw
	}
}

func (c *Catalog) normalizeScalar(f FieldSpec, raw any) any {
	s, ok := stringify(raw)
	if !ok {
		return raw
	}
	trimmed := strings.TrimSpace(s)
	key := strings.ToLower(trimmed)
	if canonical, ok := f.NormalizationRules[key]; ok {
		s = canonical
	} else {
		s = trimmed
	}
	if f.Name == "experimenter" {
		s = normalizeExperimenterName(s)
	}
	return s
}

var experimenterCommaName = regexp.MustCompile(`^[^,]+,\s*.+$`)

// normalizeExperimenterName rewrites "Firstname Lastname" / "Dr. Firstname
// Lastname" into "Lastname, Firstname" when unambiguous; values already in
// comma form, or that don't look like exactly two name tokens, pass through
// unchanged and are not rejected; no review flag is recorded for them.
func normalizeExperimenterName(s string) string {
	if s == "" || experimenterCommaName.MatchString(s) {
		return s
	}
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "Dr. ")
	cleaned = strings.TrimPrefix(cleaned, "Dr ")
	tokens := strings.Fields(cleaned)
	if len(tokens) == 2 {
		return tokens[1] + ", " + tokens[0]
	}
	return s
}

// NeedsExperimenterReview reports whether a normalized experimenter value
// still fails the "Lastname, Firstname" convention (spec §4.1.3).
func NeedsExperimenterReview(s string) bool {
	return s != "" && !experimenterCommaName.MatchString(s)
}

func asString(v any) string {
	s, _ := stringify(v)
	return s
}
