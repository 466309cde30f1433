package schema

import (
	"fmt"
	"time"
)

// ValidationResult is the outcome of validate_metadata (spec §4.1.2).
type ValidationResult struct {
	IsValid            bool     `json:"is_valid"`
	MissingRequired    []string `json:"missing_required"`
	MissingRecommended []string `json:"missing_recommended"`
	Present            []string `json:"present"`
	OptionalPresent    []string `json:"optional_present"`
}

// ValidateMetadata classifies every catalog field against the effective
// metadata map. A field is "present" iff its value is non-empty and, for
// enums, lies in AllowedValues; for duration/datetime, matches Format.
func (c *Catalog) ValidateMetadata(metadata map[string]any) ValidationResult {
	var result ValidationResult
	for _, f := range c.fields {
		v, ok := metadata[f.Name]
		present := ok && fieldIsPresent(f, v)
		switch {
		case present && f.RequirementLevel == "optional":
			result.OptionalPresent = append(result.OptionalPresent, f.Name)
			result.Present = append(result.Present, f.Name)
		case present:
			result.Present = append(result.Present, f.Name)
		case f.RequirementLevel == "required":
			result.MissingRequired = append(result.MissingRequired, f.Name)
		case f.RequirementLevel == "recommended":
			result.MissingRecommended = append(result.MissingRecommended, f.Name)
		}
	}
	result.IsValid = len(result.MissingRequired) == 0
	return result
}

// MissingRequiredFields is a convenience wrapper over ValidateMetadata used
// by the workflow predicates and the metadata-collection prompt (spec §4.4).
func (c *Catalog) MissingRequiredFields(metadata map[string]any) []string {
	return c.ValidateMetadata(metadata).MissingRequired
}

func fieldIsPresent(f FieldSpec, v any) bool {
	if isEmptyValue(v) {
		return false
	}
	switch f.FieldType {
	case "enum":
		s, ok := stringify(v)
		if !ok {
			return false
		}
		if len(f.AllowedValues) == 0 {
			return true
		}
		for _, allowed := range f.AllowedValues {
			if allowed == s {
				return true
			}
		}
		return false
	case "datetime":
		s, ok := stringify(v)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	case "duration":
		s, ok := stringify(v)
		if !ok {
			return false
		}
		return isISO8601Duration(s)
	case "list":
		switch t := v.(type) {
		case []string:
			return len(t) > 0
		case []any:
			return len(t) > 0
		default:
			s, ok := stringify(v)
			return ok && s != ""
		}
	default:
		_, ok := stringify(v)
		return ok
	}
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case fmt.Stringer:
		s := t.String()
		return s, s != ""
	default:
		return "", false
	}
}

// isISO8601Duration checks the subset of ISO-8601 durations the catalog's
// normalization rules produce: P<n>Y, P<n>M, P<n>D, P<n>W and combinations
// thereof, always starting with "P".
func isISO8601Duration(s string) bool {
	if len(s) < 2 || s[0] != 'P' {
		return false
	}
	rest := s[1:]
	sawDigit := false
	sawUnit := false
	digits := 0
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			sawDigit = true
			digits++
		case r == 'Y' || r == 'M' || r == 'D' || r == 'W':
			if !sawDigit || digits == 0 {
				return false
			}
			sawUnit = true
			digits = 0
		default:
			return false
		}
	}
	return sawUnit && digits == 0
}
