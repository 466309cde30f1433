package conversation

import (
	"context"

	"github.com/nwbconvert/orchestrator/internal/domain"
)

// onGeneralQueryChat answers free-text questions outside any structured
// phase (idle or validation_analysis) with an unconstrained LLM call (spec
// §4.4 default branch).
func (a *Agent) onGeneralQueryChat(ctx context.Context, userMessage string) (*ChatResponse, error) {
	system := "You are a helpful assistant for a neurophysiology data conversion tool. Answer the user's question about the current session plainly; do not invent conversion results you haven't been told about."
	answer, err := a.llmC.GenerateText(ctx, system, userMessage)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Message:          answer,
		Status:           domain.ChatContinues,
		ConversationType: "general_query",
	}, nil
}

// OnSmartChat services POST /api/chat/smart (spec §6, §12 supplement 4): a
// free-text answer plus phase-appropriate suggested next actions, used by
// UIs that want a "what should I do next" affordance.
func (a *Agent) OnSmartChat(ctx context.Context, userMessage string) (*SmartResponse, error) {
	acquired, release := a.bus.TryAcquireLLM(ctx, a.state.SessionID)
	if !acquired {
		return &SmartResponse{Answer: "Still working on the previous request, one moment."}, nil
	}
	defer release()

	a.state.Lock()
	defer a.state.Unlock()

	system := "You are a helpful assistant for a neurophysiology data conversion tool. Answer concisely."
	answer, err := a.llmC.GenerateText(ctx, system, userMessage)
	if err != nil {
		return nil, err
	}

	suggestions, action := suggestionsForPhase(a.state.ConversationPhase)
	return &SmartResponse{Answer: answer, Suggestions: suggestions, SuggestedAction: action}, nil
}

func suggestionsForPhase(phase domain.ConversationPhase) ([]string, string) {
	switch phase {
	case domain.PhaseMetadataCollection:
		return []string{"Tell me the experimenter name", "Say \"ready\" if you have nothing more to add"}, "provide_metadata"
	case domain.PhaseMetadataReview:
		return []string{"Say \"proceed\" to start conversion", "Add or correct a field"}, "review_metadata"
	case domain.PhaseAutoFixApproval:
		return []string{"Say \"apply\" to run automatic fixes", "Say \"show\" for details", "Say \"cancel\" to keep the current result"}, "approve_auto_fix"
	case domain.PhaseImprovementDecision:
		return []string{"Say \"accept\" to keep this result", "Say \"improve\" to try again"}, "improvement_decision"
	default:
		return []string{"Upload a recording to get started"}, ""
	}
}
