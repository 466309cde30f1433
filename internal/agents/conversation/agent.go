// Package conversation implements the Conversation Agent (spec §4.4): the
// orchestrator that owns the shared WorkflowState and is the only agent
// that talks to the user. Grounded on the teacher's
// internal/modules/chat/steps/respond.go + chat_router.go (LLM-routed
// multi-turn handler merging extraction into persisted state) and
// internal/jobs/orchestrator/engine.go's stage-dispatch shape, repurposed
// for phase dispatch.
package conversation

import (
	"fmt"
	"strings"

	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/llm"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/platform/promptstyle"
	"github.com/nwbconvert/orchestrator/internal/schema"
	"github.com/nwbconvert/orchestrator/internal/workflow"
)

// ChatResponse is the /api/chat response shape (spec §6): status is
// derived explicitly from ready_to_proceed/needs_more_info, never
// defaulted to a generic value.
type ChatResponse struct {
	Message          string            `json:"message"`
	Status           domain.ChatStatus `json:"status"`
	ReadyToProceed   bool              `json:"ready_to_proceed"`
	NeedsMoreInfo    bool              `json:"needs_more_info"`
	ConversationType string            `json:"conversation_type"`
}

// SmartResponse is the /api/chat/smart response shape (spec §6, §12
// supplement 4).
type SmartResponse struct {
	Answer           string   `json:"answer"`
	Suggestions      []string `json:"suggestions"`
	SuggestedAction  string   `json:"suggested_action,omitempty"`
}

// Agent is the Conversation Agent. It is the sole mutator of
// conversation_phase, metadata_policy, and conversation_history (spec §5).
type Agent struct {
	log     *logger.Logger
	state   *domain.WorkflowState
	catalog *schema.Catalog
	llmC    llm.Client
	bus     *bus.Bus
	outDir  string
}

func New(log *logger.Logger, state *domain.WorkflowState, catalog *schema.Catalog, llmC llm.Client, b *bus.Bus, outDir string) *Agent {
	return &Agent{log: log.With("component", "agent.conversation"), state: state, catalog: catalog, llmC: llmC, bus: b, outDir: outDir}
}

// extractionSystemPrompt is shared by OnStartConversion's inference pass
// and OnChat's metadata_collection turn; it wraps the catalog-generated
// extraction prompt with the process-wide prompt style (spec §10).
func (a *Agent) extractionSystemPrompt() string {
	return promptstyle.ApplySystem(a.catalog.GenerateLLMExtractionPrompt(), "json")
}

type extractionResult struct {
	ExtractedMetadata map[string]any `json:"extracted_metadata"`
	NeedsMoreInfo     bool           `json:"needs_more_info"`
	FollowUpMessage   string         `json:"follow_up_message"`
	ReadyToProceed    bool           `json:"ready_to_proceed"`
	Confidence        int            `json:"confidence"`
}

func parseExtractionResult(raw map[string]any) extractionResult {
	var r extractionResult
	if m, ok := raw["extracted_metadata"].(map[string]any); ok {
		r.ExtractedMetadata = m
	} else {
		r.ExtractedMetadata = map[string]any{}
	}
	r.NeedsMoreInfo, _ = raw["needs_more_info"].(bool)
	r.FollowUpMessage, _ = asString(raw["follow_up_message"])
	r.ReadyToProceed, _ = raw["ready_to_proceed"].(bool)
	r.Confidence = asInt(raw["confidence"])
	return r
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

// missingFieldsPrompt renders a human-readable ask for the given fields,
// using catalog display names and examples so "two different files get
// two different prompts" (spec §4.4).
func (a *Agent) missingFieldsPrompt(fields []string) string {
	var b strings.Builder
	b.WriteString("I still need a few details before I can convert this recording: ")
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if spec, ok := a.catalog.ByName(f); ok {
			parts = append(parts, fmt.Sprintf("%s (e.g. %s)", spec.DisplayName, spec.Example))
		} else {
			parts = append(parts, a.catalog.DisplayName(f))
		}
	}
	b.WriteString(strings.Join(parts, "; "))
	b.WriteString(". You can give me as much or as little as you have, and I'll ask about anything still missing.")
	return b.String()
}

// readyKeywords are the bare acknowledgements spec scenario 1 guards
// against: no metadata, required fields still missing, user just says
// "ready". Checking this before calling the LLM keeps the system from
// ever hallucinating fields out of an empty message.
var readyKeywords = map[string]bool{
	"ready": true, "i am ready": true, "i'm ready": true, "start": true,
	"proceed": true, "go": true, "let's go": true, "lets go": true,
	"begin": true, "start conversion": true,
}

func isBareReadyMessage(msg string) bool {
	return readyKeywords[strings.ToLower(strings.TrimSpace(msg))]
}
