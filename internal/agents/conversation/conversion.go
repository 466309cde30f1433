package conversation

import (
	"context"
	"errors"

	"github.com/nwbconvert/orchestrator/internal/agents/conversion"
	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/workflow"
)

// dispatchConversionLocked auto-fills optional fields the inference pass is
// confident about, re-checks CanStartConversion as a last-moment guard
// (spec §4.4 "never trigger conversion on incomplete state"), then
// dispatches conversion.convert and branches on the outcome. Callers must
// already hold a.state's lock.
func (a *Agent) dispatchConversionLocked(ctx context.Context) (*StartConversionResult, error) {
	a.autoFillOptionalFieldsLocked()

	if !workflow.CanStartConversion(a.catalog, a.state) {
		missing := a.catalog.MissingRequiredFields(a.state.Metadata)
		prompt := a.missingFieldsPrompt(missing)
		a.state.ConversationPhase = domain.PhaseMetadataCollection
		a.state.RecordTurn("assistant", prompt)
		return &StartConversionResult{Status: string(domain.ConversionAwaitingMetadata), Message: prompt}, nil
	}

	a.state.ConversionStatus = domain.ConversionConverting
	metadata := cloneMetadata(a.state.Metadata)
	inputPath := a.state.InputPath

	result, err := a.bus.Dispatch(ctx, bus.Request{
		Kind: bus.KindConversionConvert,
		Payload: conversion.ConvertPayload{
			InputPath: inputPath,
			Metadata:  metadata,
			OutDir:    a.outDir,
			OnProgress: func(evt converter.ProgressEvent) {
				a.state.Progress = evt.Percent
			},
		},
	})
	if err != nil {
		var convErr *converter.ConversionError
		if errors.As(err, &convErr) {
			a.state.ConversionStatus = domain.ConversionFailed
			a.state.RecordTurn("assistant", "The conversion failed: "+convErr.Message)
			return &StartConversionResult{Status: string(domain.ConversionFailed), Message: convErr.Message}, nil
		}
		return nil, err
	}

	evalResult, ok := result.(*evaluation.Result)
	if !ok {
		return nil, errors.New("conversation: unexpected conversion dispatch result type")
	}

	return a.handleEvaluationResultLocked(evalResult), nil
}

// autoFillOptionalFieldsLocked copies high-confidence inference_result
// values for keywords/experiment_description/session_description into
// auto_extracted_metadata when the user never supplied them (spec §4.4).
func (a *Agent) autoFillOptionalFieldsLocked() {
	const minConfidence = 60
	optionalAutoFill := []string{"keywords", "experiment_description", "session_description"}
	confident := map[string]any{}
	for _, field := range optionalAutoFill {
		if _, alreadySet := a.state.Metadata[field]; alreadySet {
			continue
		}
		v, ok := a.state.InferenceResult[field]
		if !ok {
			continue
		}
		if a.state.ConfidenceScores[field] < minConfidence {
			continue
		}
		confident[field] = a.catalog.Normalize(field, v)
	}
	if len(confident) > 0 {
		a.state.MergeAutoExtractedMetadata(confident, domain.SourceAIInferred, minConfidence, true)
	}
}

// improvementPromptFor renders the accept-or-improve question the user sees
// after a passed_with_issues or failed validation (spec §4.6).
func improvementPromptFor(result *evaluation.Result) string {
	switch result.Outcome {
	case domain.OutcomeFailed:
		return "The conversion produced an NWB file, but validation found critical issues that should be fixed before this file is usable. Would you like me to try to improve it, or accept it as-is?"
	default:
		return "The conversion passed with some minor validation issues. Would you like me to try to improve it, or accept it as-is?"
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// handleEvaluationResultLocked folds an evaluation.Result into state and
// picks the next phase per spec §4.6/§4.7: passed completes the session
// outright; passed_with_issues and failed both enter improvement_decision
// so the user chooses accept vs. improve.
func (a *Agent) handleEvaluationResultLocked(result *evaluation.Result) *StartConversionResult {
	status := domain.ValidationInProgress
	switch result.Outcome {
	case domain.OutcomePassed:
		status = domain.ValidationPassed
	case domain.OutcomePassedWithIssues, domain.OutcomeFailed:
		status = domain.ValidationInProgress
	}
	a.state.SetValidationResult(result.Outcome, status, result.Issues, result.ReportPaths)
	a.state.FileInfo = result.FileInfo

	switch result.Outcome {
	case domain.OutcomePassed:
		a.state.ConversionStatus = domain.ConversionCompleted
		a.state.ConversationPhase = domain.PhaseIdle
		msg := "Conversion complete with no validation issues."
		a.state.RecordTurn("assistant", msg)
		return &StartConversionResult{Status: string(domain.ConversionCompleted), Message: msg}
	default:
		a.state.ConversionStatus = domain.ConversionAwaitingUserInput
		a.state.ConversationPhase = domain.PhaseImprovementDecision
		msg := improvementPromptFor(result)
		a.state.RecordTurn("assistant", msg)
		return &StartConversionResult{Status: string(domain.ConversionAwaitingUserInput), Message: msg}
	}
}
