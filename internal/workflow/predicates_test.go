package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.Default()
	require.NoError(t, err)
	return c
}

func TestShouldRequestMetadataTrueWhenRequiredMissing(t *testing.T) {
	cat := testCatalog(t)
	s := domain.New()
	s.RebuildMetadata()
	require.True(t, ShouldRequestMetadata(cat, s))
}

func TestShouldRequestMetadataFalseOncePolicyAdvances(t *testing.T) {
	cat := testCatalog(t)
	s := domain.New()
	s.MetadataPolicy = domain.PolicyAskedOnce
	s.RebuildMetadata()
	require.False(t, ShouldRequestMetadata(cat, s))
}

func TestShouldRequestMetadataFalseWhenAlreadyInPhase(t *testing.T) {
	cat := testCatalog(t)
	s := domain.New()
	s.ConversationPhase = domain.PhaseMetadataCollection
	s.RebuildMetadata()
	require.False(t, ShouldRequestMetadata(cat, s))
}

func TestCanStartConversionRequiresFormatAndInput(t *testing.T) {
	cat := testCatalog(t)
	s := domain.New()
	require.False(t, CanStartConversion(cat, s))
	s.InputPath = "/data/rec.bin"
	s.DetectedFormat = "spikeglx"
	require.False(t, CanStartConversion(cat, s))
}

func TestCanStartConversionTrueWhenPolicyDeclined(t *testing.T) {
	cat := testCatalog(t)
	s := domain.New()
	s.InputPath = "/data/rec.bin"
	s.DetectedFormat = "spikeglx"
	s.MetadataPolicy = domain.PolicyUserDeclined
	require.True(t, CanStartConversion(cat, s))
}

func TestCanStartConversionTrueWhenAllRequiredPresent(t *testing.T) {
	cat := testCatalog(t)
	s := domain.New()
	s.InputPath = "/data/rec.bin"
	s.DetectedFormat = "spikeglx"
	s.UserProvidedMetadata = map[string]any{
		"experimenter":       "Smith, Jane",
		"institution":        "MIT",
		"subject_id":         "mouse-042",
		"species":            "Mus musculus",
		"sex":                "M",
		"session_start_time": "2024-03-14T09:30:00Z",
	}
	s.RebuildMetadata()
	require.True(t, CanStartConversion(cat, s))
}

func TestCanRetryBoundedByMaxAttempts(t *testing.T) {
	s := domain.New()
	for i := 0; i < domain.MaxRetryAttempts; i++ {
		require.True(t, CanRetry(s))
		s.IncrementRetry()
	}
	require.False(t, CanRetry(s))
}
