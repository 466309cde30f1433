package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

// proceedKeywords accept the reviewed metadata and trigger conversion
// (spec §4.4 metadata_review).
var proceedKeywords = map[string]bool{
	"proceed": true, "yes": true, "continue": true, "looks good": true,
	"go ahead": true, "convert": true, "start": true, "ok": true, "okay": true,
}

// onMetadataReviewChat lets the user either accept the collected metadata
// (dispatching conversion) or add/correct fields before trying again (spec
// §4.4 metadata_review phase).
func (a *Agent) onMetadataReviewChat(ctx context.Context, userMessage string) (*ChatResponse, error) {
	if proceedKeywords[strings.ToLower(strings.TrimSpace(userMessage))] {
		result, err := a.dispatchConversionLocked(ctx)
		if err != nil {
			return nil, err
		}
		return &ChatResponse{
			Message:          result.Message,
			Status:           statusForConversionResult(result),
			ConversationType: "conversion",
		}, nil
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
	}

	return &ChatResponse{
		Message:          a.metadataReviewSummary(),
		Status:           domain.ChatReady,
		ReadyToProceed:   true,
		ConversationType: "metadata_review",
	}, nil
}

// metadataReviewSummary renders the effective metadata for user
// confirmation before conversion starts (spec §4.4).
func (a *Agent) metadataReviewSummary() string {
	names := make([]string, 0, len(a.state.Metadata))
	for k := range a.state.Metadata {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Here's what I have so far: ")
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", a.catalog.DisplayName(name), a.state.Metadata[name]))
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(". Say \"proceed\" to start the conversion, or tell me anything you'd like to add or change.")
	return b.String()
}

func statusForConversionResult(r *StartConversionResult) domain.ChatStatus {
	switch domain.ConversionStatus(r.Status) {
	case domain.ConversionCompleted:
		return domain.ChatComplete
	case domain.ConversionAwaitingMetadata:
		return domain.ChatContinues
	default:
		return domain.ChatContinues
	}
}
