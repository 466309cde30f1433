// Package workflow centralizes the phase-decision predicates the source
// spread across scattered boolean flags (spec §9). Every predicate here is
// a pure function of WorkflowState (plus the Schema Catalog where a
// predicate needs field requirement levels); none mutate state.
package workflow

import (
	"strings"

	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

// askingPhrases are substrings that mark an assistant turn as "already
// asking for metadata", used by ShouldRequestMetadata's recency check.
var askingPhrases = []string{"missing", "still need", "could you provide", "required field"}

// ShouldRequestMetadata implements spec §4.3: true iff required fields are
// missing after inference AND metadata_policy is not_asked AND the state is
// not already inside metadata_collection AND the last two conversation
// turns are not already asking.
func ShouldRequestMetadata(cat *schema.Catalog, s *domain.WorkflowState) bool {
	if s.ConversationPhase == domain.PhaseMetadataCollection {
		return false
	}
	if s.MetadataPolicy != domain.PolicyNotAsked {
		return false
	}
	missing := cat.MissingRequiredFields(s.Metadata)
	if len(missing) == 0 {
		return false
	}
	if recentlyAsked(s) {
		return false
	}
	return true
}

func recentlyAsked(s *domain.WorkflowState) bool {
	recent := s.LastTurnsWithin(2, 0)
	for _, t := range recent {
		if t.Role != "assistant" {
			continue
		}
		lower := strings.ToLower(t.Text)
		for _, phrase := range askingPhrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}
	return false
}

// ShouldPromptCustomMetadata implements spec §4.3: true iff standard fields
// are complete-or-declined, the custom prompt hasn't been shown yet,
// metadata_policy has moved past not_asked/asked_once, and the user
// hasn't opted into the sequential flow.
func ShouldPromptCustomMetadata(cat *schema.Catalog, s *domain.WorkflowState) bool {
	if s.CustomMetadataPrompted {
		return false
	}
	if s.UserWantsSequential {
		return false
	}
	if s.MetadataPolicy == domain.PolicyNotAsked || s.MetadataPolicy == domain.PolicyAskedOnce {
		return false
	}
	if s.MetadataPolicy == domain.PolicyUserDeclined {
		return true
	}
	missing := cat.MissingRequiredFields(s.Metadata)
	return len(missing) == 0
}

// CanStartConversion implements spec §4.3: input_path set, format detected,
// and either the effective metadata contains every required field, or the
// policy has explicitly moved past collection (user_declined or
// proceeding_minimal).
func CanStartConversion(cat *schema.Catalog, s *domain.WorkflowState) bool {
	if s.InputPath == "" || s.DetectedFormat == "" {
		return false
	}
	if s.MetadataPolicy == domain.PolicyUserDeclined || s.MetadataPolicy == domain.PolicyProceedingMinimal {
		return true
	}
	return len(cat.MissingRequiredFields(s.Metadata)) == 0
}

// CanRetry implements spec §4.3 / §3.1: correction_attempt must remain
// strictly below MaxRetryAttempts.
func CanRetry(s *domain.WorkflowState) bool {
	return s.CorrectionAttempt < domain.MaxRetryAttempts
}
