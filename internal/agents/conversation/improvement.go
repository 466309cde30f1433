package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/workflow"
)

var acceptKeywords = map[string]bool{
	"accept": true, "keep it": true, "that's fine": true, "thats fine": true,
	"good enough": true, "leave it": true, "done": true,
}

var improveKeywords = map[string]bool{
	"improve": true, "fix": true, "fix it": true, "try again": true,
	"retry": true, "make it better": true,
}

// onImprovementDecisionChat routes the accept-vs-improve question (spec
// §4.7) through free text, not just the dedicated /api/improvement-decision
// endpoint, since the user may answer inline during chat.
func (a *Agent) onImprovementDecisionChat(ctx context.Context, userMessage string) (*ChatResponse, error) {
	lower := strings.ToLower(strings.TrimSpace(userMessage))
	switch {
	case acceptKeywords[lower]:
		return a.acceptValidationResultLocked()
	case improveKeywords[lower]:
		return a.beginImprovementLocked(ctx)
	default:
		return &ChatResponse{
			Message:          "Would you like me to accept the current result, or try to improve it?",
			Status:           domain.ChatContinues,
			ConversationType: "improvement_decision",
		}, nil
	}
}

// OnImprovementDecision services POST /api/improvement-decision, the
// dedicated endpoint for this choice (spec §6).
func (a *Agent) OnImprovementDecision(ctx context.Context, decision string) (*ChatResponse, error) {
	a.state.Lock()
	defer a.state.Unlock()

	if a.state.ConversationPhase != domain.PhaseImprovementDecision {
		return nil, fmt.Errorf("conversation: no improvement decision pending")
	}

	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "accept":
		return a.acceptValidationResultLocked()
	case "improve":
		return a.beginImprovementLocked(ctx)
	default:
		return nil, fmt.Errorf("conversation: unknown improvement decision %q", decision)
	}
}

func (a *Agent) acceptValidationResultLocked() (*ChatResponse, error) {
	switch a.state.OverallStatus {
	case domain.OutcomeFailed:
		a.state.ValidationStatus = domain.ValidationFailedAccepted
	default:
		a.state.ValidationStatus = domain.ValidationPassedAccepted
	}
	a.state.ConversionStatus = domain.ConversionCompleted
	a.state.ConversationPhase = domain.PhaseIdle
	msg := "Accepted. The conversion is complete."
	return &ChatResponse{Message: msg, Status: domain.ChatComplete, ConversationType: "completed"}, nil
}

// beginImprovementLocked categorizes the current issues and moves into
// auto_fix_approval, or short-circuits to failure if the retry budget is
// exhausted (spec §4.7, §3.1 MaxRetryAttempts).
func (a *Agent) beginImprovementLocked(ctx context.Context) (*ChatResponse, error) {
	if !workflow.CanRetry(a.state) {
		a.state.ConversionStatus = domain.ConversionFailed
		a.state.ConversationPhase = domain.PhaseIdle
		msg := fmt.Sprintf("I've already tried %d times to improve this file. I'll stop here; you can still download what was produced.", domain.MaxRetryAttempts)
		return &ChatResponse{Message: msg, Status: domain.ChatComplete, ConversationType: "retry_exhausted"}, nil
	}

	result, err := a.bus.Dispatch(ctx, bus.Request{Kind: bus.KindEvaluationCategorize, Payload: evaluation.CategorizePayload{
		Issues:          a.state.Issues,
		Metadata:        cloneMetadata(a.state.Metadata),
		InferenceResult: cloneMetadata(a.state.InferenceResult),
	}})
	if err != nil {
		return nil, err
	}
	categorized, ok := result.(evaluation.CategorizeResult)
	if !ok {
		return nil, fmt.Errorf("conversation: unexpected categorize result type %T", result)
	}

	a.state.CorrectionContext = &domain.CorrectionContext{
		AutoFixable:       categorized.AutoFixable,
		UserInputRequired: categorized.UserInputRequired,
		GeneratedAt:       time.Now(),
	}
	a.state.ConversationPhase = domain.PhaseAutoFixApproval

	msg := a.autoFixApprovalPrompt()
	return &ChatResponse{Message: msg, Status: domain.ChatContinues, ConversationType: "auto_fix_approval"}, nil
}
