// Package data is the gorm-backed persistence layer for session and
// validation history (spec §6 "Persisted state"). It stores a durable
// snapshot of WorkflowState rather than the original's flat
// sessions/session_<timestamp>.json files, since the ambient stack already
// carries gorm. Grounded on the teacher's internal/domain/learning
// model shape (gorm struct tags, JSONB via gorm.io/datatypes) repurposed
// from course/lesson records to session/validation records.
package data

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SessionRecord is one durable row per conversion session, snapshotting
// WorkflowState at each mutation boundary the repo is asked to persist.
type SessionRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`

	InputPath         string `gorm:"column:input_path" json:"input_path"`
	DetectedFormat    string `gorm:"column:detected_format" json:"detected_format"`
	ConversationPhase string `gorm:"column:conversation_phase;index" json:"conversation_phase"`
	MetadataPolicy    string `gorm:"column:metadata_policy" json:"metadata_policy"`
	OverallStatus     string `gorm:"column:overall_status" json:"overall_status"`
	ValidationStatus  string `gorm:"column:validation_status;index" json:"validation_status"`
	ConversionStatus  string `gorm:"column:conversion_status;index" json:"conversion_status"`
	CorrectionAttempt int    `gorm:"column:correction_attempt" json:"correction_attempt"`
	Progress          int    `gorm:"column:progress" json:"progress"`

	// Snapshot carries the full WorkflowState as JSON, exactly mirroring
	// the original's sessions/session_<timestamp>.json persistence shape
	// without introducing a second source of truth for individual fields.
	Snapshot datatypes.JSON `gorm:"column:snapshot;type:jsonb" json:"snapshot"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (SessionRecord) TableName() string { return "session_record" }

// ValidationHistoryRecord is one append-only row per validation run within a
// session, recording the retry loop's trajectory (spec §3.1
// correction_attempt, §4.7).
type ValidationHistoryRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	Attempt   int       `gorm:"column:attempt" json:"attempt"`
	Outcome   string    `gorm:"column:outcome;index" json:"outcome"`

	Issues   datatypes.JSON `gorm:"column:issues;type:jsonb" json:"issues"`
	Summary  datatypes.JSON `gorm:"column:summary;type:jsonb" json:"summary"`
	FileInfo datatypes.JSON `gorm:"column:file_info;type:jsonb" json:"file_info"`

	NWBPath  string `gorm:"column:nwb_path" json:"nwb_path"`
	PDFPath  string `gorm:"column:pdf_path" json:"pdf_path"`
	TextPath string `gorm:"column:text_path" json:"text_path"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()" json:"created_at"`
}

func (ValidationHistoryRecord) TableName() string { return "validation_history_record" }
