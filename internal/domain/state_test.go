package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	s := New()
	require.Equal(t, PhaseIdle, s.ConversationPhase)
	require.Equal(t, PolicyNotAsked, s.MetadataPolicy)
	require.Equal(t, ValidationNotRun, s.ValidationStatus)
	require.Equal(t, ConversionIdle, s.ConversionStatus)
	require.Equal(t, 0, s.CorrectionAttempt)
}

func TestResetRestoresDefaults(t *testing.T) {
	s := New()
	s.MetadataPolicy = PolicyUserProvided
	s.ConversationPhase = PhaseMetadataReview
	s.CorrectionAttempt = 3
	s.UserProvidedMetadata["species"] = "Mus musculus"
	s.RebuildMetadata()

	s.Reset("/data/new-recording.bin")

	require.Equal(t, PolicyNotAsked, s.MetadataPolicy)
	require.Equal(t, PhaseIdle, s.ConversationPhase)
	require.Equal(t, 0, s.CorrectionAttempt)
	require.Equal(t, "/data/new-recording.bin", s.InputPath)
	require.Empty(t, s.UserProvidedMetadata)
	require.Empty(t, s.Metadata)
}

func TestRebuildMetadataUserOverridesAutoExtracted(t *testing.T) {
	s := New()
	s.AutoExtractedMetadata["institution"] = "auto-guessed institution"
	s.UserProvidedMetadata["institution"] = "MIT"
	s.RebuildMetadata()
	require.Equal(t, "MIT", s.Metadata["institution"])
}

func TestMergeUserProvidedMetadataIsIncremental(t *testing.T) {
	s := New()
	s.MergeUserProvidedMetadata(map[string]any{"species": "Mus musculus"}, 90)
	s.MergeUserProvidedMetadata(map[string]any{"sex": "M"}, 85)

	require.Equal(t, "Mus musculus", s.Metadata["species"])
	require.Equal(t, "M", s.Metadata["sex"])
	require.Contains(t, s.MetadataProvenance, "species")
	require.Equal(t, SourceUser, s.MetadataProvenance["sex"].Source)
}

func TestSetValidationResultIsAtomic(t *testing.T) {
	s := New()
	s.SetValidationResult(OutcomePassedWithIssues, ValidationPassed, []ValidationIssue{
		{Severity: SeverityInfo, CheckName: "check_age", Message: "age format recommended"},
	}, ReportPaths{PDFPath: "/out/report.pdf"})

	require.Equal(t, OutcomePassedWithIssues, s.OverallStatus)
	require.Equal(t, ValidationPassed, s.ValidationStatus)
	require.Len(t, s.Issues, 1)
	require.Equal(t, "/out/report.pdf", s.ReportPaths.PDFPath)
}

func TestIncrementRetryNeverExceedsMax(t *testing.T) {
	s := New()
	var last int
	var canRetry bool
	for i := 0; i < MaxRetryAttempts+3; i++ {
		last, canRetry = s.IncrementRetry()
	}
	require.Equal(t, MaxRetryAttempts, last)
	require.False(t, canRetry)
}
