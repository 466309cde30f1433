package evaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/domain"
)

// CategorizeResult is categorize_issues's return shape (spec §4.6).
type CategorizeResult struct {
	AutoFixable       []domain.AutoFixItem   `json:"auto_fixable"`
	UserInputRequired []domain.UserInputItem `json:"user_input_required"`
}

// HandleCategorize is the bus.Handler for KindEvaluationCategorize.
func (a *Agent) HandleCategorize(ctx context.Context, req bus.Request) (any, error) {
	payload, ok := req.Payload.(CategorizePayload)
	if !ok {
		return nil, fmt.Errorf("evaluation: bad payload type %T", req.Payload)
	}
	return a.CategorizeIssues(payload.Issues, payload.Metadata, payload.InferenceResult), nil
}

// autoFixableChecks are Inspector check names whose remediation is a
// deterministic metadata rewrite (format normalization, default-from-
// inference, enum canonicalization) requiring no further user input (spec
// glossary "Auto-fixable issue"). Grounded on the field-level
// normalization rules the Schema Catalog already owns: a check is
// auto-fixable exactly when its name maps to one of the catalog's known
// fields, since normalization/defaulting is then mechanical.
var autoFixableChecks = map[string]string{
	"check_subject_sex":             "sex",
	"check_subject_age":             "age",
	"check_subject_species":         "species",
	"check_experimenter_exists":     "experimenter",
	"check_institution":             "institution",
	"check_session_description":     "session_description",
	"check_experiment_description":  "experiment_description",
	"check_keywords":                "keywords",
}

// CategorizeIssues buckets issues into auto_fixable vs. user_input_required
// (spec §4.6/§4.7). An issue whose check_name matches a known catalog
// field is treated as a deterministic rewrite; everything else (missing
// context the catalog cannot derive, e.g. surgical notes) requires the
// user. For each auto-fixable field, NewValue is computed deterministically:
// renormalize the current value if one is present, otherwise fall back to
// the inference pass's guess for that field (spec glossary "Auto-fixable
// issue").
func (a *Agent) CategorizeIssues(issues []domain.ValidationIssue, metadata, inferenceResult map[string]any) CategorizeResult {
	var result CategorizeResult
	for _, issue := range issues {
		if field, ok := fieldForCheck(issue.CheckName); ok {
			item := domain.AutoFixItem{
				Field:       field,
				Description: fmt.Sprintf("normalize/default %s", field),
				FromIssue:   issue.CheckName,
			}
			if v, ok := metadata[field]; ok {
				item.OldValue = v
				item.NewValue = a.normalize(field, v)
			} else if v, ok := inferenceResult[field]; ok {
				item.NewValue = a.normalize(field, v)
			}
			result.AutoFixable = append(result.AutoFixable, item)
			continue
		}
		result.UserInputRequired = append(result.UserInputRequired, domain.UserInputItem{
			Field:     guessFieldFromMessage(issue.Message),
			Reason:    issue.Message,
			FromIssue: issue.CheckName,
		})
	}
	return result
}

func (a *Agent) normalize(field string, v any) any {
	if a.catalog == nil {
		return v
	}
	return a.catalog.Normalize(field, v)
}

func fieldForCheck(checkName string) (string, bool) {
	if field, ok := autoFixableChecks[checkName]; ok {
		return field, true
	}
	lower := strings.ToLower(checkName)
	for _, field := range []string{"sex", "age", "species", "experimenter", "institution"} {
		if strings.Contains(lower, field) {
			return field, true
		}
	}
	return "", false
}

func guessFieldFromMessage(message string) string {
	lower := strings.ToLower(message)
	for _, field := range []string{"surgery", "virus", "genotype", "weight", "strain", "subject_description", "related_publications"} {
		if strings.Contains(lower, field) {
			return field
		}
	}
	return ""
}
