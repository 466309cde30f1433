package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nwbconvert/orchestrator/internal/agents/conversion"
	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
)

var applyKeywords = map[string]bool{
	"apply": true, "yes": true, "fix": true, "proceed": true,
	"go ahead": true, "do it": true,
}

var showKeywords = map[string]bool{
	"show": true, "details": true, "detail": true, "what": true,
	"what issues": true, "list": true,
}

var cancelKeywords = map[string]bool{
	"cancel": true, "no": true, "keep": true, "skip": true,
}

// onAutoFixApprovalChat requires explicit user consent before reconversion
// (spec §4.6/§4.7): apply runs the fix loop, show explains what would
// change, cancel drops the proposed fixes and accepts the current result
// as-is without reconverting.
func (a *Agent) onAutoFixApprovalChat(ctx context.Context, userMessage string) (*ChatResponse, error) {
	lower := strings.ToLower(strings.TrimSpace(userMessage))
	switch {
	case applyKeywords[lower]:
		return a.applyAutoFixesLocked(ctx)
	case showKeywords[lower]:
		return &ChatResponse{
			Message:          a.autoFixDetailPrompt(),
			Status:           domain.ChatContinues,
			ConversationType: "auto_fix_approval",
		}, nil
	case cancelKeywords[lower]:
		a.state.CorrectionContext = nil
		return a.acceptValidationResultLocked()
	default:
		return &ChatResponse{
			Message:          a.autoFixApprovalPrompt(),
			Status:           domain.ChatContinues,
			ConversationType: "auto_fix_approval",
		}, nil
	}
}

// autoFixApprovalPrompt summarizes what will be auto-fixed and what still
// needs the user's input (spec §4.6).
func (a *Agent) autoFixApprovalPrompt() string {
	cc := a.state.CorrectionContext
	if cc == nil || (len(cc.AutoFixable) == 0 && len(cc.UserInputRequired) == 0) {
		return "There's nothing I can automatically fix. Would you like to accept the result as-is?"
	}
	var b strings.Builder
	if len(cc.AutoFixable) > 0 {
		fields := make([]string, 0, len(cc.AutoFixable))
		for _, f := range cc.AutoFixable {
			fields = append(fields, a.catalog.DisplayName(f.Field))
		}
		fmt.Fprintf(&b, "I can automatically fix: %s. ", strings.Join(fields, ", "))
	}
	if len(cc.UserInputRequired) > 0 {
		fields := make([]string, 0, len(cc.UserInputRequired))
		for _, f := range cc.UserInputRequired {
			fields = append(fields, a.catalog.DisplayName(f.Field))
		}
		fmt.Fprintf(&b, "These still need your input and won't be auto-fixed: %s. ", strings.Join(fields, ", "))
	}
	b.WriteString("Say \"apply\" to run the automatic fixes, \"show\" for details, or \"cancel\" to keep the current result as-is.")
	return b.String()
}

func (a *Agent) autoFixDetailPrompt() string {
	cc := a.state.CorrectionContext
	if cc == nil {
		return "There's nothing to show right now."
	}
	var parts []string
	for _, f := range cc.AutoFixable {
		parts = append(parts, fmt.Sprintf("%s: %s (from %s)", a.catalog.DisplayName(f.Field), f.Description, f.FromIssue))
	}
	for _, f := range cc.UserInputRequired {
		parts = append(parts, fmt.Sprintf("%s (needs your input): %s", a.catalog.DisplayName(f.Field), f.Reason))
	}
	if len(parts) == 0 {
		return "No outstanding issues to detail."
	}
	return strings.Join(parts, "; ")
}

// applyAutoFixesLocked dispatches conversion.apply_corrections with the
// approved correction context, increments the retry counter, and folds the
// new evaluation result back in exactly like the first pass (spec §4.6).
func (a *Agent) applyAutoFixesLocked(ctx context.Context) (*ChatResponse, error) {
	attempt, _ := a.state.IncrementRetry()
	cc := a.state.CorrectionContext

	metadata := cloneMetadata(a.state.Metadata)
	result, err := a.bus.Dispatch(ctx, bus.Request{
		Kind: bus.KindConversionApplyFixes,
		Payload: conversion.ApplyCorrectionsPayload{
			InputPath:         a.state.InputPath,
			Metadata:          metadata,
			OutDir:            a.outDir,
			CorrectionContext: cc,
			OnProgress: func(evt converter.ProgressEvent) {
				a.state.Progress = evt.Percent
			},
		},
	})
	if err != nil {
		var convErr *converter.ConversionError
		if errors.As(err, &convErr) {
			a.state.ConversionStatus = domain.ConversionFailed
			a.state.ConversationPhase = domain.PhaseIdle
			return &ChatResponse{Message: "The retry failed: " + convErr.Message, Status: domain.ChatComplete, ConversationType: "conversion_failed"}, nil
		}
		return nil, err
	}

	evalResult, ok := result.(*evaluation.Result)
	if !ok {
		return nil, fmt.Errorf("conversation: unexpected apply-corrections result type %T", result)
	}

	a.state.CorrectionContext = nil
	startResult := a.handleEvaluationResultLocked(evalResult)
	if evalResult.Outcome == domain.OutcomePassed {
		a.state.ValidationStatus = domain.ValidationPassedImproved
	}

	msg := fmt.Sprintf("Attempt %d of %d: %s", attempt, domain.MaxRetryAttempts, startResult.Message)
	return &ChatResponse{
		Message:          msg,
		Status:           statusForConversionResult(startResult),
		ConversationType: "improvement_result",
	}, nil
}
