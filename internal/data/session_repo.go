package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nwbconvert/orchestrator/internal/domain"
	apperrors "github.com/nwbconvert/orchestrator/internal/platform/apperrors"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// SessionRepo persists WorkflowState snapshots (spec §6 "Persisted state",
// §12 supplement 2). Grounded on the teacher's
// internal/repos/coursegenerationrun.go optional-transaction shape: every
// method accepts a possibly-nil *gorm.DB and falls back to the repo's own
// connection, the same "transaction := tx; if nil use r.db" idiom.
type SessionRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, state *domain.WorkflowState) error
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*SessionRecord, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, log *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: log.With("repo", "SessionRepo")}
}

// Upsert writes the current snapshot keyed by session_id, matching spec
// §6's "session_<timestamp>.json on each mutation" durability without a
// second flat-file source of truth.
func (r *sessionRepo) Upsert(ctx context.Context, tx *gorm.DB, state *domain.WorkflowState) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	snapshot := state.Snapshot()
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	record := SessionRecord{
		ID:                uuid.New(),
		SessionID:         snapshot.SessionID,
		InputPath:         snapshot.InputPath,
		DetectedFormat:    snapshot.DetectedFormat,
		ConversationPhase: string(snapshot.ConversationPhase),
		MetadataPolicy:    string(snapshot.MetadataPolicy),
		OverallStatus:     string(snapshot.OverallStatus),
		ValidationStatus:  string(snapshot.ValidationStatus),
		ConversionStatus:  string(snapshot.ConversionStatus),
		CorrectionAttempt: snapshot.CorrectionAttempt,
		Progress:          snapshot.Progress,
		Snapshot:          datatypes.JSON(raw),
		UpdatedAt:         time.Now(),
	}

	return transaction.WithContext(ctx).
		Clauses(upsertBySessionID()).
		Create(&record).Error
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*SessionRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var record SessionRecord
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("updated_at DESC").
		Limit(1).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
