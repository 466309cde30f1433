package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwbconvert/orchestrator/internal/agents/conversion"
	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/inspector"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

// fakeLLM is a scripted stand-in for the LLM oracle contract (spec §6):
// each call pops the next queued structured response, or falls back to an
// empty extraction so unscripted calls don't panic the test.
type fakeLLM struct {
	structured []map[string]any
	text       []string
}

func (f *fakeLLM) GenerateStructuredOutput(ctx context.Context, systemPrompt, prompt, schemaName string, schema map[string]any) (map[string]any, error) {
	if len(f.structured) == 0 {
		return map[string]any{"extracted_metadata": map[string]any{}}, nil
	}
	next := f.structured[0]
	f.structured = f.structured[1:]
	return next, nil
}

func (f *fakeLLM) GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if len(f.text) == 0 {
		return "ok", nil
	}
	next := f.text[0]
	f.text = f.text[1:]
	return next, nil
}

// fakeConverter always succeeds, returning a deterministic nwb path.
type fakeConverter struct {
	calls int
}

func (f *fakeConverter) Convert(ctx context.Context, inputPath string, metadata map[string]any, outDir string, onProgress converter.ProgressFunc) (string, error) {
	f.calls++
	if onProgress != nil {
		onProgress(converter.ProgressEvent{Percent: 100, Stage: "complete"})
	}
	return outDir + "/out.nwb", nil
}

// fakeInspector returns a scripted issue list per call, defaulting to none.
type fakeInspector struct {
	results [][]inspector.Issue
}

func (f *fakeInspector) Inspect(ctx context.Context, nwbPath string) ([]inspector.Issue, error) {
	if len(f.results) == 0 {
		return nil, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next, nil
}

type fakeReader struct{}

func (fakeReader) Read(ctx context.Context, nwbPath string) (map[string]any, error) {
	return map[string]any{}, nil
}

type harness struct {
	agent      *Agent
	state      *domain.WorkflowState
	llm        *fakeLLM
	conv       *fakeConverter
	insp       *fakeInspector
	b          *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)

	catalog, err := schema.Default()
	require.NoError(t, err)

	state := domain.New()
	b := bus.New(log, nil)
	llmC := &fakeLLM{}
	convAgent := conversion.New(log, &fakeConverter{}, b)
	insp := &fakeInspector{}
	evalAgent := evaluation.New(log, catalog, insp, fakeReader{}, t.TempDir())

	b.Register(bus.KindConversionConvert, convAgent.HandleConvert)
	b.Register(bus.KindConversionApplyFixes, convAgent.HandleApplyCorrections)
	b.Register(bus.KindEvaluationValidate, evalAgent.HandleRunValidation)
	b.Register(bus.KindEvaluationCategorize, evalAgent.HandleCategorize)

	agent := New(log, state, catalog, llmC, b, t.TempDir())

	return &harness{agent: agent, state: state, llm: llmC, insp: insp, b: b}
}

func fullMetadata() map[string]any {
	return map[string]any{
		"experimenter":       "Smith, Jane",
		"institution":        "MIT",
		"subject_id":         "mouse-042",
		"species":            "Mus musculus",
		"sex":                "M",
		"session_start_time": "2024-03-14T09:30:00Z",
	}
}

// Scenario 1 (spec §8): "I am ready" with no metadata asks for the
// specific missing required fields instead of proceeding.
func TestScenarioReadyWithoutMetadataAsksForMissingFields(t *testing.T) {
	h := newHarness(t)
	h.state.ConversationPhase = domain.PhaseMetadataCollection
	h.state.MetadataPolicy = domain.PolicyAskedOnce
	h.state.RebuildMetadata()

	resp, err := h.agent.OnChat(context.Background(), "I am ready")
	require.NoError(t, err)
	require.Equal(t, domain.ChatContinues, resp.Status)
	require.False(t, resp.ReadyToProceed)
	require.Contains(t, resp.Message, "Experimenter")
}

// Scenario 2 (spec §8): incremental accumulation across turns never loses
// a field collected in an earlier turn.
func TestScenarioIncrementalAccumulationAcrossTurns(t *testing.T) {
	h := newHarness(t)
	h.state.ConversationPhase = domain.PhaseMetadataCollection
	h.state.MetadataPolicy = domain.PolicyAskedOnce
	h.state.RebuildMetadata()

	h.llm.structured = []map[string]any{
		{
			"extracted_metadata": map[string]any{
				"experimenter": "Dr Smith",
				"institution":  "MIT",
				"species":      "mouse",
				"age":          "P60",
			},
			"needs_more_info": true,
			"ready_to_proceed": false,
			"confidence":       90,
		},
	}
	resp, err := h.agent.OnChat(context.Background(), "Dr Smith, MIT, mouse P60")
	require.NoError(t, err)
	require.False(t, resp.ReadyToProceed)
	require.Equal(t, "Massachusetts Institute of Technology", h.state.Metadata["institution"])
	require.Equal(t, "Mus musculus", h.state.Metadata["species"])
	require.Equal(t, "P60D", h.state.Metadata["age"])

	h.llm.structured = []map[string]any{
		{
			"extracted_metadata": map[string]any{"experiment_description": "visual cortex recording"},
			"needs_more_info":    true,
			"ready_to_proceed":   false,
			"confidence":         85,
		},
	}
	resp, err = h.agent.OnChat(context.Background(), "visual cortex recording")
	require.NoError(t, err)
	require.False(t, resp.ReadyToProceed)
	// prior-turn fields remain present after the second turn (incremental
	// persistence, spec §8 invariant 1).
	require.Equal(t, "Massachusetts Institute of Technology", h.state.Metadata["institution"])
	require.Equal(t, "Mus musculus", h.state.Metadata["species"])
	require.Equal(t, "visual cortex recording", h.state.Metadata["experiment_description"])

	h.state.MergeUserProvidedMetadata(map[string]any{
		"experimenter":       "Smith, Jane",
		"subject_id":         "mouse-042",
		"sex":                "M",
		"session_start_time": "2024-03-14T09:30:00Z",
	}, 90)

	h.llm.structured = []map[string]any{{"extracted_metadata": map[string]any{}}}
	resp, err = h.agent.OnChat(context.Background(), "ready")
	require.NoError(t, err)
	require.True(t, resp.ReadyToProceed)
}

// Spec §8 invariant 2: conversion is never dispatched while required
// fields are missing and policy hasn't advanced past not_asked/asked_once.
func TestNeverDispatchesConversionOnIncompleteMetadata(t *testing.T) {
	h := newHarness(t)
	h.state.InputPath = "/data/rec.bin"
	h.state.DetectedFormat = "spikeglx"
	h.state.ConversationPhase = domain.PhaseMetadataReview
	h.state.MetadataPolicy = domain.PolicyAskedOnce
	h.state.RebuildMetadata()

	resp, err := h.agent.OnChat(context.Background(), "proceed")
	require.NoError(t, err)
	require.NotEqual(t, domain.ChatComplete, resp.Status)
	require.Equal(t, domain.ConversionIdle, h.state.ConversionStatus)
	require.Equal(t, domain.PhaseMetadataCollection, h.state.ConversationPhase)
}

// Spec scenario 5: sex normalization folds "male" into the canonical "M".
func TestScenarioSexNormalization(t *testing.T) {
	h := newHarness(t)
	h.state.ConversationPhase = domain.PhaseMetadataCollection
	h.state.MetadataPolicy = domain.PolicyAskedOnce
	h.state.RebuildMetadata()

	h.llm.structured = []map[string]any{
		{
			"extracted_metadata": map[string]any{"sex": "male", "species": "mouse"},
			"needs_more_info":    true,
			"confidence":         90,
		},
	}
	_, err := h.agent.OnChat(context.Background(), "male mouse")
	require.NoError(t, err)
	require.Equal(t, "M", h.state.UserProvidedMetadata["sex"])
}

// Spec scenario 3: auto-fix consent requires explicit "apply"/"cancel", it
// never auto-applies.
func TestScenarioAutoFixApprovalRequiresExplicitConsent(t *testing.T) {
	h := newHarness(t)
	h.state.InputPath = "/data/rec.bin"
	h.state.DetectedFormat = "spikeglx"
	h.state.UserProvidedMetadata = fullMetadata()
	h.state.RebuildMetadata()
	h.state.ConversationPhase = domain.PhaseImprovementDecision
	h.state.OverallStatus = domain.OutcomePassedWithIssues
	h.state.Issues = []domain.ValidationIssue{
		{Severity: domain.SeverityInfo, CheckName: "check_subject_sex", Message: "sex should be M/F/U"},
		{Severity: domain.SeverityInfo, CheckName: "check_institution", Message: "institution recommended"},
	}

	resp, err := h.agent.OnChat(context.Background(), "improve")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseAutoFixApproval, h.state.ConversationPhase)
	require.Contains(t, resp.Message, "apply")

	// An unrecognized reply re-asks rather than applying anything.
	resp, err = h.agent.OnChat(context.Background(), "uh what")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseAutoFixApproval, h.state.ConversationPhase)
	require.Equal(t, 0, h.state.CorrectionAttempt)

	resp, err = h.agent.OnChat(context.Background(), "apply")
	require.NoError(t, err)
	require.Equal(t, 1, h.state.CorrectionAttempt)
	_ = resp
}

// Spec scenario 3 cancel branch: cancel leaves the result accepted as-is
// with no reconversion attempt.
func TestScenarioAutoFixApprovalCancelAcceptsAsIs(t *testing.T) {
	h := newHarness(t)
	h.state.ConversationPhase = domain.PhaseAutoFixApproval
	h.state.CorrectionContext = &domain.CorrectionContext{
		AutoFixable: []domain.AutoFixItem{{Field: "sex", Description: "normalize sex"}},
	}

	resp, err := h.agent.OnChat(context.Background(), "cancel")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, h.state.ConversationPhase)
	require.Equal(t, domain.ValidationPassedAccepted, h.state.ValidationStatus)
	require.Nil(t, h.state.CorrectionContext)
	require.Equal(t, 0, h.state.CorrectionAttempt)
	_ = resp
}

// Spec scenario 6: accept-as-is on a passed_with_issues result marks
// validation_status passed_accepted and completes the conversion.
func TestScenarioPassedWithIssuesAcceptAsIs(t *testing.T) {
	h := newHarness(t)
	h.state.ConversationPhase = domain.PhaseImprovementDecision
	h.state.OverallStatus = domain.OutcomePassedWithIssues

	resp, err := h.agent.OnImprovementDecision(context.Background(), "accept")
	require.NoError(t, err)
	require.Equal(t, domain.ValidationPassedAccepted, h.state.ValidationStatus)
	require.Equal(t, domain.ConversionCompleted, h.state.ConversionStatus)
	require.Equal(t, domain.ChatComplete, resp.Status)
}

// Spec scenario 4: the correction loop is bounded by MaxRetryAttempts; the
// 6th improve request is rejected with a terminal message rather than
// running another attempt.
func TestScenarioBoundedRetryLoop(t *testing.T) {
	h := newHarness(t)
	h.state.CorrectionAttempt = domain.MaxRetryAttempts
	h.state.ConversationPhase = domain.PhaseImprovementDecision
	h.state.OverallStatus = domain.OutcomePassedWithIssues

	resp, err := h.agent.OnChat(context.Background(), "improve")
	require.NoError(t, err)
	require.Equal(t, domain.ChatComplete, resp.Status)
	require.Equal(t, domain.ConversionFailed, h.state.ConversionStatus)
	require.Equal(t, domain.MaxRetryAttempts, h.state.CorrectionAttempt)
}

// A second concurrent chat request while an LLM call is in flight returns
// busy rather than queuing (spec §5).
func TestConcurrentChatReturnsBusy(t *testing.T) {
	h := newHarness(t)
	acquired, release := h.b.TryAcquireLLM(context.Background(), h.state.SessionID)
	require.True(t, acquired)
	defer release()

	resp, err := h.agent.OnChat(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, domain.ChatBusy, resp.Status)
}
