package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProvenanceRecord is a per-field record of who supplied a metadata value,
// with confidence and review-needed flags (§3.1 metadata_provenance).
type ProvenanceRecord struct {
	Value       any            `json:"value"`
	Source      MetadataSource `json:"source"`
	Confidence  int            `json:"confidence"`
	NeedsReview bool           `json:"needs_review"`
}

// ConversationTurn is one exchange in the session's chat history (§3.1).
type ConversationTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationIssue is one finding from the Inspector contract (§6).
type ValidationIssue struct {
	Severity  Severity `json:"severity"`
	CheckName string   `json:"check_name"`
	Message   string   `json:"message"`
	Location  string   `json:"location"`
}

// AutoFixItem describes one deterministic metadata rewrite the correction
// loop can apply without further user input (§4.6, glossary: auto-fixable).
type AutoFixItem struct {
	Field       string `json:"field"`
	Description string `json:"description"`
	OldValue    any    `json:"old_value,omitempty"`
	NewValue    any    `json:"new_value,omitempty"`
	FromIssue   string `json:"from_issue"`
}

// UserInputItem describes an issue the correction loop cannot resolve on its
// own. The Conversation Agent lists it in the auto_fix_approval prompt as
// still needing the user's input; it does not re-enter metadata_collection
// for it.
type UserInputItem struct {
	Field     string `json:"field"`
	Reason    string `json:"reason"`
	FromIssue string `json:"from_issue"`
}

// CorrectionContext is the categorization kept across a single
// awaiting-consent turn (§3.1, §4.6).
type CorrectionContext struct {
	AutoFixable       []AutoFixItem   `json:"auto_fixable"`
	UserInputRequired []UserInputItem `json:"user_input_required"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// ReportPaths locates the artifacts a validation run produces (§6).
type ReportPaths struct {
	NWBPath  string `json:"nwb_path,omitempty"`
	PDFPath  string `json:"pdf_path,omitempty"`
	TextPath string `json:"text_path,omitempty"`
}

// WorkflowState is the single mutable object shared by all three agents
// (§3.1). Only the Conversation Agent mutates conversation_phase,
// metadata_policy, and conversation_history; other agents mutate
// conversion_status, progress, and validation results (§5).
type WorkflowState struct {
	mu sync.Mutex `json:"-"`

	SessionID uuid.UUID `json:"session_id"`

	InputPath      string `json:"input_path"`
	Checksum       string `json:"checksum"`
	DetectedFormat string `json:"detected_format"`

	AutoExtractedMetadata map[string]any `json:"auto_extracted_metadata"`
	UserProvidedMetadata  map[string]any `json:"user_provided_metadata"`
	Metadata              map[string]any `json:"metadata"`

	InferenceResult  map[string]any `json:"inference_result"`
	ConfidenceScores map[string]int `json:"confidence_scores"`

	MetadataProvenance map[string]ProvenanceRecord `json:"metadata_provenance"`

	ConversationPhase ConversationPhase     `json:"conversation_phase"`
	MetadataPolicy    MetadataRequestPolicy `json:"metadata_policy"`
	OverallStatus     ValidationOutcome     `json:"overall_status"`
	ValidationStatus  ValidationStatus      `json:"validation_status"`
	ConversionStatus  ConversionStatus      `json:"conversion_status"`

	Progress int `json:"progress"`

	CorrectionAttempt  int             `json:"correction_attempt"`
	UserDeclinedFields map[string]bool `json:"user_declined_fields"`
	CorrectionContext  *CorrectionContext `json:"correction_context,omitempty"`

	Issues      []ValidationIssue `json:"issues"`
	FileInfo    map[string]any    `json:"file_info,omitempty"`
	ReportPaths ReportPaths       `json:"report_paths"`

	ConversationHistory []ConversationTurn `json:"conversation_history"`

	// CustomMetadataPrompted tracks whether should_prompt_custom_metadata
	// has already fired once this session (§4.3).
	CustomMetadataPrompted bool `json:"custom_metadata_prompted"`
	UserWantsSequential    bool `json:"user_wants_sequential"`

	LLMProcessing bool `json:"llm_processing"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New constructs a fresh WorkflowState with every enum at its zero/default
// value, matching the fields reset() must restore (§3.3, §8 invariant 4).
func New() *WorkflowState {
	s := &WorkflowState{SessionID: uuid.New()}
	s.ensure()
	s.applyDefaults()
	return s
}

// ensure lazily initializes the map/slice fields, mirroring the teacher's
// defensive ensure()-on-every-mutator style for durable snapshot structs.
func (s *WorkflowState) ensure() {
	if s.AutoExtractedMetadata == nil {
		s.AutoExtractedMetadata = map[string]any{}
	}
	if s.UserProvidedMetadata == nil {
		s.UserProvidedMetadata = map[string]any{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	if s.InferenceResult == nil {
		s.InferenceResult = map[string]any{}
	}
	if s.ConfidenceScores == nil {
		s.ConfidenceScores = map[string]int{}
	}
	if s.MetadataProvenance == nil {
		s.MetadataProvenance = map[string]ProvenanceRecord{}
	}
	if s.UserDeclinedFields == nil {
		s.UserDeclinedFields = map[string]bool{}
	}
	if s.ConversationHistory == nil {
		s.ConversationHistory = []ConversationTurn{}
	}
	if s.Issues == nil {
		s.Issues = []ValidationIssue{}
	}
}

func (s *WorkflowState) applyDefaults() {
	s.ConversationPhase = PhaseIdle
	s.MetadataPolicy = PolicyNotAsked
	s.OverallStatus = ""
	s.ValidationStatus = ValidationNotRun
	s.ConversionStatus = ConversionIdle
	s.CorrectionAttempt = 0
	s.CustomMetadataPrompted = false
	s.UserWantsSequential = false
	s.LLMProcessing = false
	now := timeNow()
	s.CreatedAt = now
	s.UpdatedAt = now
}

// timeNow is the sole call to the wall clock in this package, isolated so
// tests can observe it deterministically if ever needed.
func timeNow() time.Time { return time.Now() }

// Lock/Unlock expose the per-state mutex (§5 "single cooperative event
// loop"). The Conversation Agent's entry points and the HTTP handlers that
// mutate state take it directly and hold it for the whole call, including
// any bus dispatch made meanwhile; bus.Dispatch itself never locks it.
func (s *WorkflowState) Lock()   { s.mu.Lock() }
func (s *WorkflowState) Unlock() { s.mu.Unlock() }

// RebuildMetadata recomputes the derived effective view: user-provided
// values win over auto-extracted ones (§3.1 "metadata is a derived view").
// Callers must invoke this after any mutation to either source map.
func (s *WorkflowState) RebuildMetadata() {
	s.ensure()
	merged := make(map[string]any, len(s.AutoExtractedMetadata)+len(s.UserProvidedMetadata))
	for k, v := range s.AutoExtractedMetadata {
		merged[k] = v
	}
	for k, v := range s.UserProvidedMetadata {
		merged[k] = v
	}
	s.Metadata = merged
	s.UpdatedAt = timeNow()
}

// Snapshot returns a shallow copy safe to serialize for GET /api/status or
// to log on an internal invariant violation (§7).
func (s *WorkflowState) Snapshot() WorkflowState {
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}
