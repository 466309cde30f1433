package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default()
	require.NoError(t, err)
	return c
}

func TestCatalogLoadsAllFields(t *testing.T) {
	c := testCatalog(t)
	assert.GreaterOrEqual(t, len(c.Fields()), 18)
	_, ok := c.ByName("experimenter")
	assert.True(t, ok)
}

func TestRequiredFieldsMatchSpecScenario1(t *testing.T) {
	c := testCatalog(t)
	required := c.ByRequirementLevel("required")
	names := make(map[string]bool, len(required))
	for _, f := range required {
		names[f.Name] = true
	}
	for _, want := range []string{"experimenter", "institution", "subject_id", "species", "sex", "session_start_time"} {
		assert.True(t, names[want], "expected %s to be required", want)
	}
}

func TestValidateMetadataMissingRequired(t *testing.T) {
	c := testCatalog(t)
	result := c.ValidateMetadata(map[string]any{})
	assert.False(t, result.IsValid)
	assert.ElementsMatch(t, []string{"experimenter", "institution", "subject_id", "species", "sex", "session_start_time"}, result.MissingRequired)
}

func TestValidateMetadataAllRequiredPresent(t *testing.T) {
	c := testCatalog(t)
	result := c.ValidateMetadata(map[string]any{
		"experimenter":       "Smith, Jane",
		"institution":        "MIT",
		"subject_id":         "mouse-042",
		"species":            "Mus musculus",
		"sex":                "M",
		"session_start_time": "2024-03-14T09:30:00Z",
	})
	assert.True(t, result.IsValid)
	assert.Empty(t, result.MissingRequired)
}

func TestValidateMetadataRejectsBadEnum(t *testing.T) {
	c := testCatalog(t)
	result := c.ValidateMetadata(map[string]any{"sex": "banana"})
	assert.Contains(t, result.MissingRequired, "sex")
}

func TestValidateMetadataRejectsBadDuration(t *testing.T) {
	c := testCatalog(t)
	result := c.ValidateMetadata(map[string]any{"age": "not-a-duration"})
	assert.Contains(t, result.MissingRecommended, "age")
}

func TestNormalizeSex(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, "M", c.Normalize("sex", "male"))
	assert.Equal(t, "F", c.Normalize("sex", "Female"))
}

func TestNormalizeInstitution(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, "Massachusetts Institute of Technology", c.Normalize("institution", "MIT"))
}

func TestNormalizeAge(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, "P56D", c.Normalize("age", "8 weeks"))
	assert.Equal(t, "P60D", c.Normalize("age", "P60"))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	c := testCatalog(t)
	for _, tc := range []struct {
		field string
		raw   any
	}{
		{"sex", "male"},
		{"institution", "mit"},
		{"age", "8 weeks"},
		{"species", "mouse"},
	} {
		once := c.Normalize(tc.field, tc.raw)
		twice := c.Normalize(tc.field, once)
		assert.Equal(t, once, twice, "normalize should be idempotent for %s", tc.field)
	}
}

func TestNormalizeEnumStaysWithinAllowedValuesOrIdentity(t *testing.T) {
	c := testCatalog(t)
	f, ok := c.ByName("sex")
	require.True(t, ok)
	for _, raw := range []string{"male", "female", "unknown", "other", "xyz"} {
		normalized := c.Normalize("sex", raw)
		s, _ := stringify(normalized)
		if contains(f.AllowedValues, s) {
			continue
		}
		assert.Equal(t, raw, s, "unmapped enum input should pass through as identity")
	}
}

func TestNormalizeExperimenterName(t *testing.T) {
	assert.Equal(t, "Smith, Jane", normalizeExperimenterName("Jane Smith"))
	assert.Equal(t, "Smith, Jane", normalizeExperimenterName("Smith, Jane"))
	assert.True(t, NeedsExperimenterReview("Jane Middle Smith"))
}

func TestGenerateLLMExtractionPromptHasFourExamples(t *testing.T) {
	c := testCatalog(t)
	prompt := c.GenerateLLMExtractionPrompt()
	assert.Equal(t, 4, strings.Count(prompt, "### Example"))
	assert.Contains(t, prompt, "ready_to_proceed")
	assert.Contains(t, prompt, "experimenter")
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
