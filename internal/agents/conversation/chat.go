package conversation

import (
	"context"

	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

// OnChat is the Conversation Agent's single entry point for every user
// message (spec §4.4-§4.7): it dispatches purely on conversation_phase,
// never on message content alone, so the same utterance means different
// things in different phases.
func (a *Agent) OnChat(ctx context.Context, userMessage string) (*ChatResponse, error) {
	acquired, release := a.bus.TryAcquireLLM(ctx, a.state.SessionID)
	if !acquired {
		return &ChatResponse{Message: "Still working on the previous request, one moment.", Status: domain.ChatBusy}, nil
	}
	defer release()

	a.state.Lock()
	defer a.state.Unlock()

	a.state.RecordTurn("user", userMessage)

	var resp *ChatResponse
	var err error
	switch a.state.ConversationPhase {
	case domain.PhaseMetadataCollection:
		resp, err = a.onMetadataCollectionChat(ctx, userMessage)
	case domain.PhaseMetadataReview:
		resp, err = a.onMetadataReviewChat(ctx, userMessage)
	case domain.PhaseAutoFixApproval:
		resp, err = a.onAutoFixApprovalChat(ctx, userMessage)
	case domain.PhaseImprovementDecision:
		resp, err = a.onImprovementDecisionChat(ctx, userMessage)
	default:
		resp, err = a.onGeneralQueryChat(ctx, userMessage)
	}
	if err != nil {
		return nil, err
	}
	a.state.RecordTurn("assistant", resp.Message)
	return resp, nil
}

// onMetadataCollectionChat extracts metadata from the latest message,
// merges it incrementally, and decides whether to ask again or proceed
// (spec §4.4). A bare "ready"-style acknowledgement never triggers
// extraction on an empty message (spec scenario 1).
func (a *Agent) onMetadataCollectionChat(ctx context.Context, userMessage string) (*ChatResponse, error) {
	if isBareReadyMessage(userMessage) {
		missing := a.catalog.MissingRequiredFields(a.state.Metadata)
		if len(missing) > 0 {
			return &ChatResponse{
				Message:        a.missingFieldsPrompt(missing),
				Status:         domain.ChatContinues,
				NeedsMoreInfo:  true,
				ConversationType: "metadata_collection",
			}, nil
		}
		return a.proceedToReviewOrConversion(ctx)
	}

	raw, err := a.llmC.GenerateStructuredOutput(ctx, a.extractionSystemPrompt(), userMessage, "metadata_extraction", schema.ExtractionResponseSchema())
	if err != nil {
		return nil, err
	}
	result := parseExtractionResult(raw)

	normalized := map[string]any{}
	for field, v := range result.ExtractedMetadata {
		normalized[field] = a.catalog.Normalize(field, v)
	}
	if len(normalized) > 0 {
		a.state.MergeUserProvidedMetadata(normalized, result.Confidence)
		a.state.MetadataPolicy = domain.PolicyUserProvided
	}

	missing := a.catalog.MissingRequiredFields(a.state.Metadata)
	if len(missing) > 0 {
		msg := result.FollowUpMessage
		if msg == "" {
			msg = a.missingFieldsPrompt(missing)
		}
		return &ChatResponse{
			Message:        msg,
			Status:         domain.ChatContinues,
			NeedsMoreInfo:  true,
			ConversationType: "metadata_collection",
		}, nil
	}

	return a.proceedToReviewOrConversion(ctx)
}

// proceedToReviewOrConversion enters metadata_review once required fields
// are complete, presenting what was collected before conversion actually
// starts (spec §4.4 -> §4.5 handoff).
func (a *Agent) proceedToReviewOrConversion(ctx context.Context) (*ChatResponse, error) {
	a.state.ConversationPhase = domain.PhaseMetadataReview
	return &ChatResponse{
		Message:          a.metadataReviewSummary(),
		Status:           domain.ChatReady,
		ReadyToProceed:   true,
		ConversationType: "metadata_review",
	}, nil
}
