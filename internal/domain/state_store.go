package domain

import "time"

// SetValidationResult sets overall_status, validation_status, and the issue
// list together in a single atomic step (spec §4.2, §8 invariant 5: no
// observer may see overall_status updated without issues and
// validation_status also updated). Callers must hold s.Lock() (the
// Conversation Agent's entry points hold it for the whole call, including
// any bus dispatch they make, spec §5).
func (s *WorkflowState) SetValidationResult(outcome ValidationOutcome, status ValidationStatus, issues []ValidationIssue, paths ReportPaths) {
	s.ensure()
	s.OverallStatus = outcome
	s.ValidationStatus = status
	s.Issues = issues
	s.ReportPaths = paths
	s.UpdatedAt = timeNow()
}

// RecordUserDeclined unions fields into user_declined_fields and advances
// metadata_policy to user_declined (spec §4.2).
func (s *WorkflowState) RecordUserDeclined(fields []string) {
	s.ensure()
	for _, f := range fields {
		s.UserDeclinedFields[f] = true
	}
	s.MetadataPolicy = PolicyUserDeclined
	s.UpdatedAt = timeNow()
}

// IncrementRetry bumps correction_attempt and reports whether retry
// capability still holds afterward (spec §4.2, §8 invariant 3:
// correction_attempt never exceeds MaxRetryAttempts).
func (s *WorkflowState) IncrementRetry() (attempt int, canRetry bool) {
	s.ensure()
	if s.CorrectionAttempt < MaxRetryAttempts {
		s.CorrectionAttempt++
	}
	s.UpdatedAt = timeNow()
	return s.CorrectionAttempt, s.CorrectionAttempt < MaxRetryAttempts
}

// RecordTurn appends one exchange to conversation_history (spec §3.1).
func (s *WorkflowState) RecordTurn(role, text string) {
	s.ensure()
	s.ConversationHistory = append(s.ConversationHistory, ConversationTurn{
		Role:      role,
		Text:      text,
		Timestamp: timeNow(),
	})
	s.UpdatedAt = timeNow()
}

// MergeUserProvidedMetadata appends extracted fields into
// user_provided_metadata, records provenance for each, and rebuilds the
// effective metadata view — the incremental-persistence invariant of spec
// §4.4 / §8 invariant 1: never gated on ready_to_proceed.
func (s *WorkflowState) MergeUserProvidedMetadata(fields map[string]any, confidence int) {
	s.ensure()
	for k, v := range fields {
		s.UserProvidedMetadata[k] = v
		s.MetadataProvenance[k] = ProvenanceRecord{
			Value:       v,
			Source:      SourceUser,
			Confidence:  confidence,
			NeedsReview: false,
		}
	}
	s.RebuildMetadata()
}

// MergeAutoExtractedMetadata records fields inferred from the file itself or
// by the LLM inference pass, with explicit source attribution (spec §3.1,
// §4.4 auto-fill: ai-inferred fields are marked needs_review).
func (s *WorkflowState) MergeAutoExtractedMetadata(fields map[string]any, source MetadataSource, confidence int, needsReview bool) {
	s.ensure()
	for k, v := range fields {
		s.AutoExtractedMetadata[k] = v
		s.MetadataProvenance[k] = ProvenanceRecord{
			Value:       v,
			Source:      source,
			Confidence:  confidence,
			NeedsReview: needsReview,
		}
	}
	s.RebuildMetadata()
}

// Reset clears derived caches and ephemeral flags and replaces input_path,
// matching spec §3.3: inference_result, correction_context,
// metadata_provenance, and ephemeral flags are cleared; every enum in §3.2
// returns to its zero/default value (§8 invariant 4).
func (s *WorkflowState) Reset(newInputPath string) {
	sessionID := s.SessionID
	createdAt := s.CreatedAt
	*s = WorkflowState{SessionID: sessionID, CreatedAt: createdAt}
	s.ensure()
	s.applyDefaults()
	s.InputPath = newInputPath
	s.UpdatedAt = timeNow()
}

// LastTurnsWithin returns up to the last n conversation turns whose
// timestamps fall within window (all of the last n when window <= 0) —
// used by ShouldRequestMetadata's "last two conversation turns are not
// already asking" check (spec §4.3).
func (s *WorkflowState) LastTurnsWithin(n int, window time.Duration) []ConversationTurn {
	s.ensure()
	if len(s.ConversationHistory) == 0 {
		return nil
	}
	start := len(s.ConversationHistory) - n
	if start < 0 {
		start = 0
	}
	out := make([]ConversationTurn, 0, n)
	cutoff := timeNow().Add(-window)
	for _, t := range s.ConversationHistory[start:] {
		if window <= 0 || t.Timestamp.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
