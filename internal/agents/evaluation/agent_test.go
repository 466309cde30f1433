package evaluation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/inspector"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

type scriptedInspector struct {
	issues []inspector.Issue
	err    error
}

func (s scriptedInspector) Inspect(ctx context.Context, nwbPath string) ([]inspector.Issue, error) {
	return s.issues, s.err
}

type emptyReader struct{}

func (emptyReader) Read(ctx context.Context, nwbPath string) (map[string]any, error) {
	return map[string]any{"institution": "MIT"}, nil
}

func newAgent(t *testing.T, insp inspector.Inspector) *Agent {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	catalog, err := schema.Default()
	require.NoError(t, err)
	return New(log, catalog, insp, emptyReader{}, t.TempDir())
}

func TestRunValidationClassifiesPassedWithNoIssues(t *testing.T) {
	a := newAgent(t, scriptedInspector{})
	result, err := a.RunValidation(context.Background(), "/out/rec.nwb")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePassed, result.Outcome)
	require.NotEmpty(t, result.ReportPaths.PDFPath)
	require.Empty(t, result.ReportPaths.TextPath)
}

// Info-severity issues classify as passed_with_issues, per the spec's
// stated current treatment (surfacing DANDI recommendations to the user).
func TestRunValidationInfoIssuesArePassedWithIssues(t *testing.T) {
	a := newAgent(t, scriptedInspector{issues: []inspector.Issue{
		{Severity: domain.SeverityInfo, CheckName: "check_keywords", Message: "keywords recommended"},
	}})
	result, err := a.RunValidation(context.Background(), "/out/rec.nwb")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePassedWithIssues, result.Outcome)
	require.NotEmpty(t, result.ReportPaths.PDFPath)
}

func TestRunValidationCriticalIssueFails(t *testing.T) {
	a := newAgent(t, scriptedInspector{issues: []inspector.Issue{
		{Severity: domain.SeverityCritical, CheckName: "check_missing_electrodes", Message: "no electrode table"},
	}})
	result, err := a.RunValidation(context.Background(), "/out/rec.nwb")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, result.Outcome)
	require.NotEmpty(t, result.ReportPaths.TextPath)
	require.Empty(t, result.ReportPaths.PDFPath)
}

// Inspector failures degrade to a partial result rather than aborting the
// report pipeline (spec §7 "Inspector failure").
func TestRunValidationDegradesOnInspectorFailure(t *testing.T) {
	a := newAgent(t, scriptedInspector{err: assertErr{}})
	result, err := a.RunValidation(context.Background(), "/out/rec.nwb")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePassed, result.Outcome)
	require.Equal(t, "MIT", result.FileInfo["institution"])
}

type assertErr struct{}

func (assertErr) Error() string { return "inspector process crashed" }

func TestCategorizeIssuesSplitsAutoFixableFromUserInput(t *testing.T) {
	a := newAgent(t, scriptedInspector{})
	result := a.CategorizeIssues([]domain.ValidationIssue{
		{Severity: domain.SeverityWarning, CheckName: "check_subject_sex", Message: "sex should be M/F/U"},
		{Severity: domain.SeverityInfo, CheckName: "check_surgery_notes", Message: "surgery field missing detail"},
	}, map[string]any{"sex": "male"}, nil)
	require.Len(t, result.AutoFixable, 1)
	require.Equal(t, "sex", result.AutoFixable[0].Field)
	require.Equal(t, "M", result.AutoFixable[0].NewValue)
	require.Len(t, result.UserInputRequired, 1)
	require.Equal(t, "surgery", result.UserInputRequired[0].Field)
}
