// Package domain holds the shared workflow state and its enum vocabulary:
// the single mutable object every agent reads and a subset mutates (§3, §5).
package domain

// ConversationPhase drives the Conversation Agent's on_chat dispatch (§4.4).
type ConversationPhase string

const (
	PhaseIdle               ConversationPhase = "idle"
	PhaseMetadataCollection ConversationPhase = "metadata_collection"
	PhaseMetadataReview     ConversationPhase = "metadata_review"
	PhaseAutoFixApproval    ConversationPhase = "auto_fix_approval"
	PhaseImprovementDecision ConversationPhase = "improvement_decision"
	PhaseValidationAnalysis ConversationPhase = "validation_analysis"
)

// MetadataRequestPolicy replaces the scattered boolean flags the source used
// to track whether metadata has been asked for (§9). Transitions are
// monotonic: not_asked -> asked_once -> one of {user_provided,
// user_declined, proceeding_minimal}, except via Reset.
type MetadataRequestPolicy string

const (
	PolicyNotAsked          MetadataRequestPolicy = "not_asked"
	PolicyAskedOnce         MetadataRequestPolicy = "asked_once"
	PolicyUserProvided      MetadataRequestPolicy = "user_provided"
	PolicyUserDeclined      MetadataRequestPolicy = "user_declined"
	PolicyProceedingMinimal MetadataRequestPolicy = "proceeding_minimal"
)

// ValidationOutcome is the Evaluation Agent's classification of a run (§4.6).
type ValidationOutcome string

const (
	OutcomePassed            ValidationOutcome = "passed"
	OutcomePassedWithIssues  ValidationOutcome = "passed_with_issues"
	OutcomeFailed             ValidationOutcome = "failed"
)

// ValidationStatus tracks the session-level resolution of a validation run,
// including the user's improve/accept decision (§3.2).
type ValidationStatus string

const (
	ValidationNotRun         ValidationStatus = "not_run"
	ValidationInProgress     ValidationStatus = "in_progress"
	ValidationPassed         ValidationStatus = "passed"
	ValidationPassedAccepted ValidationStatus = "passed_accepted"
	ValidationPassedImproved ValidationStatus = "passed_improved"
	ValidationFailedAccepted ValidationStatus = "failed_accepted"
	ValidationFailed         ValidationStatus = "failed"
)

// FieldRequirementLevel is a Schema Catalog field's importance (§4.1).
type FieldRequirementLevel string

const (
	RequirementRequired    FieldRequirementLevel = "required"
	RequirementRecommended FieldRequirementLevel = "recommended"
	RequirementOptional    FieldRequirementLevel = "optional"
)

// FieldType is a Schema Catalog field's value shape (§3.2).
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeEnum     FieldType = "enum"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeDuration FieldType = "duration"
	FieldTypeList     FieldType = "list"
)

// ConversionStatus tracks the pipeline's overall progress (§3.1).
type ConversionStatus string

const (
	ConversionIdle                ConversionStatus = "idle"
	ConversionUploading           ConversionStatus = "uploading"
	ConversionUploadAcknowledged  ConversionStatus = "upload_acknowledged"
	ConversionDetectingFormat     ConversionStatus = "detecting_format"
	ConversionAwaitingMetadata    ConversionStatus = "awaiting_metadata"
	ConversionConverting          ConversionStatus = "converting"
	ConversionValidating          ConversionStatus = "validating"
	ConversionAwaitingUserInput   ConversionStatus = "awaiting_user_input"
	ConversionCompleted           ConversionStatus = "completed"
	ConversionFailed              ConversionStatus = "failed"
)

// Severity is the NWB Inspector's issue severity vocabulary (§6).
type Severity string

const (
	SeverityCritical     Severity = "CRITICAL"
	SeverityError        Severity = "ERROR"
	SeverityWarning      Severity = "WARNING"
	SeverityBestPractice Severity = "BEST_PRACTICE"
	SeverityInfo         Severity = "INFO"
)

// MetadataSource records which of the three layers produced a field value
// (§3.1 metadata_provenance).
type MetadataSource string

const (
	SourceUser         MetadataSource = "user"
	SourceAIInferred   MetadataSource = "ai-inferred"
	SourceAutoExtracted MetadataSource = "auto-extracted"
)

// ChatStatus is the /api/chat response's status field (§6), derived
// explicitly from ready_to_proceed/needs_more_info, never defaulted.
type ChatStatus string

const (
	ChatContinues ChatStatus = "conversation_continues"
	ChatReady     ChatStatus = "ready_to_convert"
	ChatComplete  ChatStatus = "conversation_complete"
	ChatBusy      ChatStatus = "busy"
	ChatError     ChatStatus = "error"
)

// MaxRetryAttempts bounds the post-validation correction loop (§3.1, §7).
const MaxRetryAttempts = 5
